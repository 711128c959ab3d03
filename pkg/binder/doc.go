// Package binder fills request structs from an HTTP request.
//
// Each binder reads one source and its own struct tag:
//
//	type refundRequest struct {
//		PaymentID uuid.UUID       `path:"paymentID"`
//		Amount    decimal.Decimal `json:"amount"`
//		Reason    string          `json:"reason"`
//	}
//
//	handler.Wrap(h, handler.WithBinders[handler.Context, refundRequest](
//		binder.Path(chi.URLParam),
//		binder.JSON(),
//	))
//
// Path and Query accept basic kinds, pointers, slices and any type
// implementing encoding.TextUnmarshaler, such as uuid.UUID.
package binder
