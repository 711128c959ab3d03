package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/pinboard/handler"
	"github.com/dmitrymomot/pinboard/svc/payment"
)

type paymentRequest struct {
	PaymentID uuid.UUID `path:"paymentID" json:"-"`
}

type refundRequest struct {
	PaymentID uuid.UUID       `path:"paymentID" json:"-"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

func (rt *routes) getPayment(ctx handler.Context, req paymentRequest) handler.Response {
	p, err := rt.payments.Get(ctx, req.PaymentID)
	if err != nil {
		return handler.JSONError(err)
	}
	return rt.paymentDetail(ctx, p)
}

func (rt *routes) myPayments(ctx handler.Context, _ struct{}) handler.Response {
	payments, err := rt.checkout.Payments(ctx, principal(ctx).UserID)
	if err != nil {
		return handler.JSONError(err)
	}
	views := make([]paymentView, 0, len(payments))
	for i := range payments {
		views = append(views, newPaymentView(&payments[i]))
	}
	return handler.JSON(views, handler.WithJSONMeta(map[string]any{"total": len(views)}))
}

func (rt *routes) myPayment(ctx handler.Context, req paymentRequest) handler.Response {
	p, err := rt.checkout.Payment(ctx, principal(ctx).UserID, req.PaymentID)
	if err != nil {
		return handler.JSONError(err)
	}
	return rt.paymentDetail(ctx, p)
}

func (rt *routes) cancelPayment(ctx handler.Context, req paymentRequest) handler.Response {
	p, err := rt.checkout.Cancel(ctx, principal(ctx).UserID, req.PaymentID)
	if err != nil {
		return handler.JSONError(err)
	}
	return handler.JSON(newPaymentView(p))
}

// paymentDetail renders p with its attempts and refunds.
func (rt *routes) paymentDetail(ctx handler.Context, p *payment.Payment) handler.Response {
	attempts, err := rt.payments.Attempts(ctx, p.ID)
	if err != nil {
		return handler.JSONError(err)
	}
	refunds, err := rt.payments.Refunds(ctx, p.ID)
	if err != nil {
		return handler.JSONError(err)
	}

	v := newPaymentView(p)
	v.Attempts = make([]attemptView, 0, len(attempts))
	v.Refunds = make([]refundView, 0, len(refunds))
	for _, a := range attempts {
		v.Attempts = append(v.Attempts, attemptView{
			ID:           a.ID,
			ChargeID:     a.ChargeID,
			Status:       a.Status,
			ErrorMessage: a.ErrorMessage,
			CreatedAt:    a.CreatedAt,
		})
	}
	for i := range refunds {
		v.Refunds = append(v.Refunds, newRefundView(&refunds[i]))
	}
	return handler.JSON(v)
}

func (rt *routes) listRefunds(ctx handler.Context, req paymentRequest) handler.Response {
	refunds, err := rt.payments.Refunds(ctx, req.PaymentID)
	if err != nil {
		return handler.JSONError(err)
	}
	views := make([]refundView, 0, len(refunds))
	for i := range refunds {
		views = append(views, newRefundView(&refunds[i]))
	}
	return handler.JSON(views)
}

func (rt *routes) createRefund(ctx handler.Context, req refundRequest) handler.Response {
	admin := principal(ctx).UserID
	refund, err := rt.payments.CreateRefund(ctx, payment.RefundParams{
		PaymentID: req.PaymentID,
		Amount:    req.Amount,
		Reason:    req.Reason,
		CreatedBy: &admin,
	})
	if err != nil {
		return handler.JSONError(err)
	}
	return handler.JSON(newRefundView(refund), handler.WithJSONStatus(http.StatusCreated))
}
