// Package checkout starts a purchase: it puts the user's subscription into
// pending for the chosen plan and records the Payment that will pay for it,
// in one transaction.
//
// When a Gateway is configured, a hosted payment page is opened for the
// payment and its session identifiers are attached so that the provider's
// webhooks can be matched back. The payment id always travels in provider
// metadata under payment.MetadataPaymentID. Without a Gateway the client
// collects the payment itself and passes the returned payment id through.
//
//	svc := checkout.NewService(subs, payments, store,
//	    checkout.WithGateway(stripeGateway),
//	    checkout.WithCurrency("USD"),
//	)
//	res, err := svc.Start(ctx, userID, planID)
//	// redirect to res.CheckoutURL
package checkout
