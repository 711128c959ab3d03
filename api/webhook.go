package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrymomot/pinboard/handler"
	"github.com/dmitrymomot/pinboard/pkg/binder"
	"github.com/dmitrymomot/pinboard/pkg/logger"
)

const maxWebhookBody = 1 << 20

type webhookRequest struct {
	Provider string `path:"provider"`
	Payload  []byte
	Header   http.Header
}

// webhookBody keeps the exact bytes the provider signed.
func webhookBody(r *http.Request, v any) error {
	req, ok := v.(*webhookRequest)
	if !ok {
		return binder.ErrBinderNotApplicable
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", binder.ErrFailedToParseJSON, err)
	}
	if len(body) > maxWebhookBody {
		return handler.ErrPayloadTooLarge
	}
	req.Payload = body
	req.Header = r.Header
	return nil
}

type webhookAck struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

func (rt *routes) ingestWebhook(ctx handler.Context, req webhookRequest) handler.Response {
	res, err := rt.hooks.Ingest(ctx, req.Provider, req.Payload, req.Header)
	if err != nil {
		return handler.JSONError(err)
	}
	if res.Duplicate {
		rt.log.InfoContext(ctx, "duplicate webhook acknowledged", logger.Provider(req.Provider))
		return handler.JSON(webhookAck{Status: "duplicate"})
	}
	ack := webhookAck{Status: "received"}
	if res.Event != nil {
		ack.Status = string(res.Event.Status)
		ack.EventID = res.Event.EventID
	}
	return handler.JSON(ack)
}
