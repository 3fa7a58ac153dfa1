package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/postgate/internal/clock"
	"github.com/tbourn/postgate/internal/repo"
)

var (
	channelLinkRE = regexp.MustCompile(`t\.me/([A-Za-z0-9_]+)`)
	channelIDRE   = regexp.MustCompile(`^-100\d{5,}$`)
	channelNameRE = regexp.MustCompile(`^[A-Za-z0-9_]{5,}$`)
)

// NormalizeChannel canonicalizes a destination address:
//
//	anything containing t.me/name -> @name
//	-100 followed by 5+ digits    -> unchanged numeric id
//	@name                         -> unchanged
//	name of 5+ word characters    -> @name
//
// Anything else is returned trimmed but otherwise as given.
func NormalizeChannel(raw string) string {
	s := strings.TrimSpace(raw)
	if m := channelLinkRE.FindStringSubmatch(s); m != nil {
		return "@" + m[1]
	}
	if channelIDRE.MatchString(s) || strings.HasPrefix(s, "@") {
		return s
	}
	if channelNameRE.MatchString(s) {
		return "@" + s
	}
	return s
}

// ChannelService owns the destination channel stored under the config key.
type ChannelService struct {
	DB    *gorm.DB
	Clock clock.Clock
	// Default is used while no value has been stored.
	Default string
}

// Destination returns the normalized address publication should target, or
// "" when none is configured.
func (s *ChannelService) Destination(ctx context.Context) (string, error) {
	v, err := repo.GetConfig(ctx, s.DB, repo.ConfigChannelID)
	if errors.Is(err, repo.ErrNotFound) {
		return NormalizeChannel(s.Default), nil
	}
	if err != nil {
		return "", err
	}
	return NormalizeChannel(v), nil
}

// Seed stores Default when the key is absent. An existing value is kept.
func (s *ChannelService) Seed(ctx context.Context) error {
	d := NormalizeChannel(s.Default)
	if d == "" {
		return nil
	}
	return repo.SeedConfig(ctx, s.DB, repo.ConfigChannelID, d, s.Clock.Now())
}

// Set replaces the destination. Owner only.
func (s *ChannelService) Set(ctx context.Context, actorID int64, raw string) (string, error) {
	ch := NormalizeChannel(raw)
	if ch == "" {
		return "", ErrInvalidChannel
	}
	if _, err := requireOwner(ctx, s.DB, actorID); err != nil {
		return "", err
	}
	now := s.Clock.Now()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.PutConfig(ctx, tx, repo.ConfigChannelID, ch, now); err != nil {
			return err
		}
		return repo.AppendAudit(ctx, tx, actorID, repo.ActionSetChannel, nil, ch, now)
	})
	if err != nil {
		return "", err
	}
	return ch, nil
}
