package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/pkg/export"
	"github.com/noah-isme/studio-portal-api/pkg/storage"
)

type backlogSource interface {
	ResolvePending(ctx context.Context, from, to time.Time) ([]models.Occurrence, error)
}

type ledgerSource interface {
	List(ctx context.Context, exec sqlx.ExtContext, filter models.CreditFilter) ([]models.Credit, error)
}

type recordSource interface {
	ListInRange(ctx context.Context, from, to time.Time) ([]models.OccurrenceRecord, error)
}

type studentDirectory interface {
	ListStudents(ctx context.Context) ([]models.Student, error)
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportSources are the read models behind each report type.
type ExportSources struct {
	Backlog     backlogSource
	Credits     ledgerSource
	Occurrences recordSource
	Students    studentDirectory
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
	Now       func() time.Time
	Location  *time.Location
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	Rows         int
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	src     ExportSources
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService. Nil renderers default to the
// pkg/export implementations.
func NewExportService(src ExportSources, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		src:     src,
		storage: store,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for job, renders it and stores the file.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	from, to, err := job.Params.Range()
	if err != nil {
		return nil, err
	}
	dataset, err := s.buildDataset(ctx, job, from, to)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.logger.Info("export generated",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.String("path", relPath),
		zap.Int("rows", len(dataset.Rows)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/exports/%s", prefix, token),
		Format:       job.Params.Format,
		Rows:         len(dataset.Rows),
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl, or the configured ResultTTL when ttl <= 0.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := s.cfg.Now().UTC().Format("20060102_150405")
	scope := "all"
	if job.Params.StudentID != nil && *job.Params.StudentID != "" {
		scope = sanitizeFilename(*job.Params.StudentID)
	}
	return fmt.Sprintf("%s/%s_%s_%s_%s_%s.%s",
		job.Type, job.Type, sanitizeFilename(job.Params.From), sanitizeFilename(job.Params.To), scope, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 64 {
		return result[:64]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob, from, to time.Time) (export.Dataset, error) {
	switch job.Type {
	case models.ReportTypeBacklog:
		return s.backlogDataset(ctx, from, to)
	case models.ReportTypeCredits:
		return s.creditDataset(ctx, job.Params, from, to)
	case models.ReportTypeAttendance:
		return s.attendanceDataset(ctx, from, to)
	default:
		return export.Dataset{}, fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) backlogDataset(ctx context.Context, from, to time.Time) (export.Dataset, error) {
	pending, err := s.src.Backlog.ResolvePending(ctx, from, to)
	if err != nil {
		return export.Dataset{}, err
	}
	ds := export.Dataset{
		Title:   fmt.Sprintf("Pending occurrences %s to %s", models.FormatDate(from), models.FormatDate(to)),
		Headers: []string{"Date", "Weekday", "Start", "End", "Modality", "Professor", "Slot ID"},
	}
	for _, occ := range pending {
		ds.Append(models.FormatDate(occ.Date), occ.Date.Weekday().String(), occ.StartTime, occ.EndTime, occ.ModalityID, occ.ProfessorID, occ.FixedSlotID)
	}
	ds.Notes = []string{fmt.Sprintf("%d occurrences awaiting attendance or cancellation.", len(pending))}
	return ds, nil
}

func (s *ExportService) creditDataset(ctx context.Context, params models.ReportJobParams, from, to time.Time) (export.Dataset, error) {
	filter := models.CreditFilter{}
	if params.StudentID != nil {
		filter.StudentID = *params.StudentID
	}
	credits, err := s.src.Credits.List(ctx, nil, filter)
	if err != nil {
		return export.Dataset{}, err
	}
	names, err := s.studentNames(ctx)
	if err != nil {
		return export.Dataset{}, err
	}
	today := models.CivilDate(s.cfg.Now(), s.cfg.Location)

	inRange := credits[:0:0]
	for _, c := range credits {
		issued := models.CivilDate(c.CreatedAt, s.cfg.Location)
		if issued.Before(from) || issued.After(to) {
			continue
		}
		inRange = append(inRange, c)
	}
	sort.SliceStable(inRange, func(i, j int) bool {
		if !inRange[i].CreatedAt.Equal(inRange[j].CreatedAt) {
			return inRange[i].CreatedAt.Before(inRange[j].CreatedAt)
		}
		return inRange[i].ID < inRange[j].ID
	})

	ds := export.Dataset{
		Title:   fmt.Sprintf("Makeup credit ledger %s to %s", models.FormatDate(from), models.FormatDate(to)),
		Headers: []string{"Issued", "Student", "Source", "Quantity", "Used", "Valid Until", "Status", "Reason"},
	}
	var issued, used int
	for _, c := range inRange {
		issued += c.Quantity
		used += c.QuantityUsed
		ds.Append(
			models.FormatDate(models.CivilDate(c.CreatedAt, s.cfg.Location)),
			displayName(names, c.StudentID),
			string(c.Source),
			strconv.Itoa(c.Quantity),
			strconv.Itoa(c.QuantityUsed),
			models.FormatDate(c.ValidUntil),
			creditStatus(c, today),
			c.Reason,
		)
	}
	ds.Notes = []string{fmt.Sprintf("%d credits issued, %d redeemed, %d outstanding.", issued, used, issued-used)}
	return ds, nil
}

func creditStatus(c models.Credit, today time.Time) string {
	switch {
	case c.Remaining() <= 0:
		return "USED"
	case c.ExpiredOn(today):
		return "EXPIRED"
	default:
		return "ACTIVE"
	}
}

func (s *ExportService) attendanceDataset(ctx context.Context, from, to time.Time) (export.Dataset, error) {
	records, err := s.src.Occurrences.ListInRange(ctx, from, to)
	if err != nil {
		return export.Dataset{}, err
	}
	ds := export.Dataset{
		Title:   fmt.Sprintf("Attendance %s to %s", models.FormatDate(from), models.FormatDate(to)),
		Headers: []string{"Date", "Slot ID", "State", "Present", "Absent", "Unmarked", "Credits Issued", "Reason", "Recorded By"},
	}
	var realized, cancelled int
	for _, rec := range records {
		unmarked := len(rec.Attendance) - rec.TotalPresent - rec.TotalAbsent
		if rec.State == models.OccurrenceCancelled {
			cancelled++
			unmarked = 0
		} else {
			realized++
		}
		reason := ""
		if rec.Reason != nil {
			reason = *rec.Reason
		}
		ds.Append(
			models.FormatDate(rec.Date),
			rec.FixedSlotID,
			string(rec.State),
			strconv.Itoa(rec.TotalPresent),
			strconv.Itoa(rec.TotalAbsent),
			strconv.Itoa(unmarked),
			strconv.Itoa(rec.CreditsIssued),
			reason,
			rec.RecordedBy,
		)
	}
	ds.Notes = []string{fmt.Sprintf("%d realized, %d cancelled.", realized, cancelled)}
	return ds, nil
}

func (s *ExportService) studentNames(ctx context.Context) (map[string]string, error) {
	if s.src.Students == nil {
		return nil, nil
	}
	students, err := s.src.Students.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(students))
	for _, st := range students {
		names[st.ID] = st.FullName
	}
	return names, nil
}

func displayName(names map[string]string, id string) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return id
}
