package account

import (
	"context"

	"go.uber.org/zap"

	"github.com/cardioscan/backend/internal/storage/models"
	"github.com/cardioscan/backend/pkg/logger"
	"github.com/cardioscan/backend/pkg/utils"
)

type tokenKey struct{}

// WithToken attaches the account service bearer token to ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

type recorder interface {
	Append(ctx context.Context, email string, record models.ScanRecord) error
	CorrectionExamples(ctx context.Context, n int) ([]models.ScanRecord, error)
}

// Mirror saves scans locally and copies them to the account service when
// the request carries a token. Remote failures never fail the local save.
type Mirror struct {
	next   recorder
	client *Client
}

func NewMirror(next recorder, client *Client) *Mirror {
	return &Mirror{next: next, client: client}
}

func (m *Mirror) Append(ctx context.Context, email string, record models.ScanRecord) error {
	if err := m.next.Append(ctx, email, record); err != nil {
		return err
	}

	token := TokenFromContext(ctx)
	if token == "" {
		return nil
	}
	if err := m.client.CreateScan(ctx, token, record); err != nil {
		logger.Warn("Failed to mirror scan to account service",
			zap.String("owner", utils.MaskEmail(email)),
			zap.String("scan_id", record.ScanID),
			zap.Error(err),
		)
	}
	return nil
}

func (m *Mirror) CorrectionExamples(ctx context.Context, n int) ([]models.ScanRecord, error) {
	return m.next.CorrectionExamples(ctx, n)
}
