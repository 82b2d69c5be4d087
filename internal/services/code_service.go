package services

import (
	"context"
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/boscod/parkmate/internal/apperrors"
	"github.com/boscod/parkmate/internal/metrics"
	"github.com/boscod/parkmate/internal/models"
	"github.com/boscod/parkmate/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

var (
	ErrInvalidCodeFormat = apperrors.New(apperrors.KindValidation, "Invalid activation code format")
	ErrCodeNotFound      = apperrors.New(apperrors.KindNotFound, "Activation code not found")
	ErrCodeExpired       = apperrors.New(apperrors.KindExpired, "Activation code has expired")
)

var codePattern = regexp.MustCompile(`^PK\d{6}[A-Z]{2}$`)

// Candidates per requested code before giving up on finding a free one.
const maxCodeAttempts = 5

const codeSheet = "Codes"

type CodeConfig struct {
	ValidityDays    int // absolute lifetime from generation, 0 = none
	ReuseWindowDays int // window after first use, 0 = unbounded
}

type CodeService struct {
	codes store.CodeStore
	cfg   CodeConfig
	now   func() time.Time
}

func NewCodeService(codes store.CodeStore, cfg CodeConfig) *CodeService {
	return &CodeService{
		codes: codes,
		cfg:   cfg,
		now:   time.Now,
	}
}

// NormalizeCode trims and upper-cases user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func IsValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

// Generate creates count unused codes valid for durationDays, each usable on
// up to villaCount villas.
func (s *CodeService) Generate(ctx context.Context, adminID *int64, count, durationDays, villaCount int) ([]string, error) {
	if count < 1 || count > models.MaxCodesPerBatch {
		return nil, apperrors.Validation(fmt.Sprintf("Count must be between 1 and %d", models.MaxCodesPerBatch))
	}
	if !models.IsAllowedCodeDuration(durationDays) {
		return nil, apperrors.Validation(fmt.Sprintf("Duration must be one of %v days", models.AllowedCodeDurations))
	}
	if villaCount == 0 {
		villaCount = models.DefaultCodeVillaSize
	}
	if villaCount < 1 || villaCount > models.MaxVillasPerCode {
		return nil, apperrors.Validation(fmt.Sprintf("Villa count must be between 1 and %d", models.MaxVillasPerCode))
	}

	now := s.now()
	var expiresAt *time.Time
	if s.cfg.ValidityDays > 0 {
		t := now.Add(days(s.cfg.ValidityDays))
		expiresAt = &t
	}

	batch := make(map[string]bool, count)
	rows := make([]*models.ActivationCode, 0, count)
	for len(rows) < count {
		code, err := s.uniqueCode(ctx, batch)
		if err != nil {
			return nil, err
		}
		batch[code] = true
		rows = append(rows, &models.ActivationCode{
			Code:         code,
			DurationDays: durationDays,
			VillaCount:   villaCount,
			ExpiresAt:    expiresAt,
			CreatedBy:    adminID,
			CreatedAt:    now,
		})
	}

	if err := s.codes.InsertCodes(ctx, rows); err != nil {
		return nil, apperrors.Persistence("Failed to save activation codes", err)
	}

	codes := make([]string, len(rows))
	for i, r := range rows {
		codes[i] = r.Code
	}
	metrics.CodesGenerated.Add(float64(len(codes)))
	log.Info().Int("count", len(codes)).Int("duration_days", durationDays).Int("villa_count", villaCount).Msg("Activation codes generated")
	return codes, nil
}

func (s *CodeService) uniqueCode(ctx context.Context, batch map[string]bool) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := randomCode()
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindInternal, "Failed to generate activation code", err)
		}
		if batch[code] {
			continue
		}

		exists, err := s.codes.CodeExists(ctx, code)
		if err != nil {
			return "", apperrors.Persistence("Failed to check activation code", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", apperrors.Persistence("Failed to generate unique activation code, please try again", nil)
}

// randomCode draws PK + 6 digits + 2 uppercase letters from crypto/rand
func randomCode() (string, error) {
	const digits = "0123456789"
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	b := make([]byte, 0, 10)
	b = append(b, 'P', 'K')
	for i := 0; i < 6; i++ {
		c, err := pick(digits)
		if err != nil {
			return "", err
		}
		b = append(b, c)
	}
	for i := 0; i < 2; i++ {
		c, err := pick(letters)
		if err != nil {
			return "", err
		}
		b = append(b, c)
	}
	return string(b), nil
}

func pick(charset string) (byte, error) {
	n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, err
	}
	return charset[n.Int64()], nil
}

// Validate checks format, existence and expiry. A used code is still valid:
// it may activate further villas until its quota is spent.
func (s *CodeService) Validate(ctx context.Context, code string) (*models.ActivationCode, error) {
	code = NormalizeCode(code)
	if !IsValidCodeFormat(code) {
		return nil, ErrInvalidCodeFormat
	}

	ac, err := s.codes.GetCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, apperrors.Persistence("Failed to look up activation code", err)
	}

	if s.isExpired(ac, s.now()) {
		return nil, ErrCodeExpired
	}
	return ac, nil
}

func (s *CodeService) isExpired(ac *models.ActivationCode, now time.Time) bool {
	if ac.ExpiresAt != nil && !now.Before(*ac.ExpiresAt) {
		return true
	}
	if ac.UsedAt != nil && s.cfg.ReuseWindowDays > 0 {
		if !now.Before(ac.UsedAt.Add(days(s.cfg.ReuseWindowDays))) {
			return true
		}
	}
	return false
}

// VillasUsed counts the distinct villas a code has activated.
func (s *CodeService) VillasUsed(ctx context.Context, code string) (int, error) {
	counts, err := s.codes.CountVillasByCode(ctx, []string{code})
	if err != nil {
		return 0, apperrors.Persistence("Failed to count code usage", err)
	}
	return counts[code], nil
}

// ListCodes returns codes with the number of villas each has activated.
func (s *CodeService) ListCodes(ctx context.Context, filter store.CodeFilter) ([]*models.ActivationCodeResponse, int, error) {
	codes, total, err := s.codes.ListCodes(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.Persistence("Failed to list activation codes", err)
	}

	names := make([]string, len(codes))
	for i, c := range codes {
		names[i] = c.Code
	}
	used, err := s.codes.CountVillasByCode(ctx, names)
	if err != nil {
		return nil, 0, apperrors.Persistence("Failed to count code usage", err)
	}

	responses := make([]*models.ActivationCodeResponse, len(codes))
	for i, c := range codes {
		responses[i] = c.ToResponse(used[c.Code])
	}
	return responses, total, nil
}

// ExportCodes renders every code into an xlsx workbook.
func (s *CodeService) ExportCodes(ctx context.Context) ([]byte, error) {
	codes, _, err := s.ListCodes(ctx, store.CodeFilter{})
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", codeSheet); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "Failed to build export", err)
	}

	header := []interface{}{"Code", "Duration (days)", "Villa count", "Villas used", "Used", "Used by", "Used at", "Expires at", "Created at"}
	if err := f.SetSheetRow(codeSheet, "A1", &header); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "Failed to build export", err)
	}

	for i, c := range codes {
		row := []interface{}{
			c.Code,
			c.DurationDays,
			c.VillaCount,
			c.VillasUsed,
			c.IsUsed,
			deref(c.UsedBy),
			deref(c.UsedAt),
			deref(c.ExpiresAt),
			c.CreatedAt,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "Failed to build export", err)
		}
		if err := f.SetSheetRow(codeSheet, cell, &row); err != nil {
			return nil, apperrors.Wrap(apperrors.KindInternal, "Failed to build export", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "Failed to write export", err)
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
