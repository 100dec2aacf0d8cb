package main

import (
	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/estateguard/internal/clock"
	"github.com/BradenHooton/estateguard/internal/models"
	"github.com/BradenHooton/estateguard/internal/store"
)

// volatileStores holds the short-lived state that never touches Postgres
type volatileStores struct {
	csrfTokens    store.Store[models.CsrfToken]
	otpChallenges store.Store[models.OtpChallenge]
	rateWindows   store.Store[models.RateWindow]
	spentTickets  store.Store[bool]
}

func newVolatileStores(client *redis.Client, c clock.Clock) volatileStores {
	return volatileStores{
		csrfTokens:    newStore[models.CsrfToken](client, "csrf:", c),
		otpChallenges: newStore[models.OtpChallenge](client, "otp:", c),
		rateWindows:   newStore[models.RateWindow](client, "rate:", c),
		spentTickets:  newStore[bool](client, "reset-jti:", c),
	}
}

func newStore[T any](client *redis.Client, prefix string, c clock.Clock) store.Store[T] {
	if client == nil {
		return store.NewMemory[T](c)
	}
	return store.NewRedis[T](client, "estateguard:"+prefix)
}
