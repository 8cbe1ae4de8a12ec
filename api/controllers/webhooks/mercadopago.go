package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gustavoferreira/dropmart-backend/api/responses"
	mpwebhook "github.com/gustavoferreira/dropmart-backend/internal/webhooks/mercadopago"
	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
	"github.com/gustavoferreira/dropmart-backend/pkg/logger"
)

type MercadoPagoWebhookService interface {
	HandleEvent(ctx context.Context, event *mpwebhook.Event) error
}

type mercadoPagoGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type mercadoPagoClient interface {
	SigningSecret() string
}

// MercadoPagoWebhook receives payment notifications. The provider expects a
// quick 200; the ack is written and the handler returns while reconciliation
// runs in the background. Processing failures are only logged, the redis
// guard is released so a redelivery can try again.
func MercadoPagoWebhook(svc MercadoPagoWebhookService, client mercadoPagoClient, guard mercadoPagoGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var event mpwebhook.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		dataID := strings.TrimSpace(r.URL.Query().Get("data.id"))
		if dataID == "" {
			dataID = event.Data.ID
		}

		if !validateMercadoPagoSignature(client.SigningSecret(), r, dataID) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		eventID := dataID
		if event.ID != 0 {
			eventID = strconv.FormatInt(event.ID, 10)
		}
		if eventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id missing"))
			return
		}

		duplicate, err := guard.CheckAndMark(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if duplicate {
			responses.WriteSuccess(w, nil)
			return
		}

		// Ack first. The provider only needs to know delivery succeeded;
		// reconciliation runs detached so the response is not held until
		// the provider fetch and DB work finish.
		responses.WriteSuccess(w, nil)

		eventCtx := context.WithoutCancel(ctx)
		go func() {
			if err := svc.HandleEvent(eventCtx, &event); err != nil {
				_ = guard.Release(eventCtx, eventID)
				if logg != nil {
					logg.Error(eventCtx, fmt.Sprintf("mercadopago event %s failed", eventID), err)
				}
				return
			}
			if logg != nil {
				logg.Info(eventCtx, fmt.Sprintf("mercadopago event %s processed", eventID))
			}
		}()
	}
}

// validateMercadoPagoSignature checks the x-signature header. The manifest is
// id:{data.id};request-id:{x-request-id};ts:{ts}; signed with HMAC-SHA256,
// alphanumeric data ids lowercased.
func validateMercadoPagoSignature(secret string, r *http.Request, dataID string) bool {
	if secret == "" {
		return false
	}

	header := r.Header.Get("x-signature")
	if header == "" {
		return false
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;",
		strings.ToLower(dataID),
		r.Header.Get("x-request-id"),
		ts,
	)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(v1))
}
