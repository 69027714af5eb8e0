package main

import "veilbox/internal/core"

// ─── Subscriptions ──────────────────────────────────────────────────

func (b *BindingService) ListSubscriptions() []core.Subscription {
	return b.svc.Subscriptions()
}

type AddSubscriptionParams struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

func (b *BindingService) AddSubscription(params AddSubscriptionParams) (core.Subscription, error) {
	return b.svc.AddSubscription(params.Label, params.URL)
}

func (b *BindingService) RefreshSubscription(id string) error {
	return b.svc.RefreshSubscription(id)
}

func (b *BindingService) DeleteSubscription(id string) error {
	return b.svc.DeleteSubscription(id)
}
