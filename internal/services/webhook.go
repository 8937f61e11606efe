package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"skynet-vpn-bot/internal/apperr"
	"skynet-vpn-bot/internal/validator"
)

// ResultForm — поля уведомления Robokassa на ResultURL.
type ResultForm struct {
	OutSum         string `form:"OutSum" json:"OutSum" validate:"required"`
	InvID          string `form:"InvId" json:"InvId" validate:"required,numeric"`
	SignatureValue string `form:"SignatureValue" json:"SignatureValue" validate:"required,len=32"`
	Email          string `form:"EMail" json:"EMail" validate:"omitempty,email"`
}

// PaymentWebhook проверяет уведомление об оплате и передаёт его в Settler.
type PaymentWebhook struct {
	kassa     *Robokassa
	settler   *Settler
	messenger Messenger
	validate  *validator.Validator
	log       *zap.Logger
}

func NewPaymentWebhook(kassa *Robokassa, settler *Settler, messenger Messenger, v *validator.Validator, log *zap.Logger) *PaymentWebhook {
	return &PaymentWebhook{kassa: kassa, settler: settler, messenger: messenger, validate: v, log: log}
}

// Handle возвращает тело ответа "OK<InvId>". Любой другой ответ Robokassa
// считает неуспешным и повторит уведомление позже.
func (h *PaymentWebhook) Handle(ctx context.Context, form ResultForm) (string, error) {
	if err := h.validate.Validate(form); err != nil {
		// e-mail необязателен, кривой адрес не повод терять оплату
		var ve *validator.ValidationError
		if errors.As(err, &ve) && len(ve.Errors) == 1 && ve.Errors["ResultForm.EMail"] != "" {
			form.Email = ""
		} else {
			h.log.Warn("malformed payment notification", zap.Error(err))
			return "", err
		}
	}
	if !h.kassa.VerifyResult(form.OutSum, form.InvID, form.SignatureValue) {
		h.messenger.SendOperators(ctx, "Недействительная подпись уведомления об оплате, InvId="+form.InvID)
		return "", fmt.Errorf("invoice %s: bad signature: %w", form.InvID, apperr.ErrUnauthorized)
	}
	invID, err := strconv.ParseUint(form.InvID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("InvId %q: %w", form.InvID, apperr.ErrMalformedInput)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(form.OutSum))
	if err != nil {
		h.messenger.SendOperators(ctx, fmt.Sprintf("Оплата #%d: не разобрана сумма %q", invID, form.OutSum))
		return "", fmt.Errorf("OutSum %q: %w", form.OutSum, apperr.ErrMalformedInput)
	}

	out, err := h.settler.Settle(ctx, SettleInput{InvoiceID: uint(invID), Amount: amount, Email: form.Email})
	if err != nil {
		h.log.Error("settlement failed", zap.Uint64("invoice_id", invID), zap.Error(err))
		return "", err
	}
	if out.Replayed {
		h.log.Info("payment notification replayed", zap.Uint64("invoice_id", invID))
	}
	return "OK" + form.InvID, nil
}
