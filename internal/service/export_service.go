package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/univops/registrar-api/internal/models"
	"github.com/univops/registrar-api/pkg/config"
	"github.com/univops/registrar-api/pkg/export"
	appErrors "github.com/univops/registrar-api/pkg/errors"
	"github.com/univops/registrar-api/pkg/storage"
)

type rosterReader interface {
	ListRoster(ctx context.Context, sectionID string) ([]models.EnrollmentDetail, error)
}

type sectionDetailReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.CourseSectionDetail, error)
}

// RosterExport describes a rendered roster file with its download token.
type RosterExport struct {
	SectionID string    `json:"section_id"`
	Format    string    `json:"format"`
	Filename  string    `json:"filename"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	RowCount  int       `json:"row_count"`
}

// ExportService renders section rosters to CSV or PDF, stores them on disk
// and hands back a signed download token.
type ExportService struct {
	enrollments rosterReader
	sections    sectionDetailReader
	csv         *export.CSVRenderer
	pdf         *export.PDFRenderer
	store       *storage.ExportStore
	signer      *storage.DownloadSigner
	logger      *zap.Logger
}

// NewExportService constructs the export pipeline.
func NewExportService(enrollments rosterReader, sections sectionDetailReader, cfg config.ExportsConfig, logger *zap.Logger) (*ExportService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.NewExportStore(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init export storage: %w", err)
	}
	return &ExportService{
		enrollments: enrollments,
		sections:    sections,
		csv:         export.NewCSVRenderer(),
		pdf:         export.NewPDFRenderer(),
		store:       store,
		signer:      storage.NewDownloadSigner(cfg.SignedURLSecret, cfg.SignedURLTTL),
		logger:      logger,
	}, nil
}

// ExportRoster renders the section roster in the requested format. The roster
// lists active enrollments only, seated students first, waitlist in FIFO
// order.
func (s *ExportService) ExportRoster(ctx context.Context, sectionID, format string, actor models.Actor) (*RosterExport, error) {
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	section, err := s.sections.FindDetailByID(ctx, sectionID)
	if err != nil {
		return nil, appErrors.ErrSectionNotFound
	}
	roster, err := s.enrollments.ListRoster(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}

	document := export.Roster{
		CourseCode:    section.CourseCode,
		CourseTitle:   section.CourseTitle,
		SectionNumber: section.SectionNumber,
		TermName:      section.TermName,
		GeneratedAt:   time.Now().UTC(),
		Entries:       make([]export.RosterEntry, 0, len(roster)),
	}
	position := 0
	for _, entry := range roster {
		pos := 0
		if entry.Status == models.EnrollmentStatusWaitlisted {
			position++
			pos = position
		}
		document.Entries = append(document.Entries, export.RosterEntry{
			StudentNumber:    entry.StudentNumber,
			StudentName:      entry.StudentName,
			Status:           string(entry.Status),
			WaitlistPosition: pos,
			EnrolledAt:       entry.EnrolledAt,
		})
	}

	var rendered []byte
	switch format {
	case "csv":
		rendered, err = s.csv.Render(document)
	case "pdf":
		rendered, err = s.pdf.Render(document)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}

	exportID := uuid.NewString()
	filename := fmt.Sprintf("rosters/%s/%s.%s", sectionID, exportID, format)
	if err := s.store.Save(filename, rendered); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store roster")
	}
	token, expiresAt, err := s.signer.Sign(exportID, filename)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}

	s.logger.Info("roster exported",
		zap.String("section_id", sectionID),
		zap.String("format", format),
		zap.Int("rows", len(document.Entries)),
		zap.String("actor_id", actor.UserID),
	)
	return &RosterExport{
		SectionID: sectionID,
		Format:    format,
		Filename:  filename,
		Token:     token,
		ExpiresAt: expiresAt,
		RowCount:  len(document.Entries),
	}, nil
}

// OpenDownload validates a signed token and opens the referenced file.
func (s *ExportService) OpenDownload(token string) (string, error) {
	_, relPath, err := s.signer.Verify(token)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	return relPath, nil
}

// Open returns a read handle for a stored export file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

// StartCleanup periodically removes exports older than the TTL until ctx is
// cancelled.
func (s *ExportService) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				deleted, err := s.store.RemoveExpired(ttl)
				if err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
					continue
				}
				if len(deleted) > 0 {
					s.logger.Info("expired exports removed", zap.Int("count", len(deleted)))
				}
			}
		}
	}()
}
