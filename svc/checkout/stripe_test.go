package checkout_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"

	"github.com/dmitrymomot/pinboard/svc/checkout"
	"github.com/dmitrymomot/pinboard/svc/payment"
)

func TestNewStripeGateway_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := checkout.NewStripeGateway(checkout.StripeConfig{}, nil)
	assert.ErrorIs(t, err, checkout.ErrMissingAPIKey)
}

func TestStripeGateway_CreateSession(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		path string
		form url.Values
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		path = r.URL.Path
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1","customer":"cus_9","payment_intent":null}`))
	}))
	t.Cleanup(srv.Close)

	backends := &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{URL: stripe.String(srv.URL)}),
	}
	gw, err := checkout.NewStripeGateway(checkout.StripeConfig{
		SecretKey:  "sk_test_123",
		SuccessURL: "https://app.example/success",
		CancelURL:  "https://app.example/cancel",
	}, backends)
	require.NoError(t, err)
	assert.Equal(t, payment.MethodStripe, gw.Method())

	paymentID := uuid.New()
	sess, err := gw.CreateSession(context.Background(), checkout.SessionRequest{
		PaymentID: paymentID,
		UserID:    uuid.New(),
		PlanName:  "Premium monthly",
		Amount:    decimal.RequireFromString("12.50"),
		Currency:  "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.URL)
	assert.Equal(t, "cus_9", sess.CustomerID)
	assert.Empty(t, sess.IntentID)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/v1/checkout/sessions", path)
	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, paymentID.String(), form.Get("client_reference_id"))
	assert.Equal(t, paymentID.String(), form.Get("metadata[payment_id]"))
	assert.Equal(t, paymentID.String(), form.Get("payment_intent_data[metadata][payment_id]"))
	assert.Equal(t, "1250", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
}

func TestStripeGateway_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such price"}}`))
	}))
	t.Cleanup(srv.Close)

	backends := &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{URL: stripe.String(srv.URL)}),
	}
	gw, err := checkout.NewStripeGateway(checkout.StripeConfig{SecretKey: "sk_test_123"}, backends)
	require.NoError(t, err)

	_, err = gw.CreateSession(context.Background(), checkout.SessionRequest{
		PaymentID:       uuid.New(),
		ProviderPriceID: "price_missing",
		Currency:        "USD",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such price")
}
