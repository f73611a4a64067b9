package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"creatorpulse/internal/app"
	"creatorpulse/internal/domain"
)

// manifest — описание бандлов, источников и задач в YAML.
type manifest struct {
	Bundles []bundleSpec `yaml:"bundles"`
	Jobs    []jobSpec    `yaml:"jobs"`
}

type bundleSpec struct {
	Key     string       `yaml:"key"`
	Label   string       `yaml:"label"`
	Sources []sourceSpec `yaml:"sources"`
}

type sourceSpec struct {
	Type       domain.SourceType `yaml:"type"`
	Identifier string            `yaml:"identifier"`
	Disabled   bool              `yaml:"disabled"`
}

type jobSpec struct {
	ID         string                `yaml:"id"`
	UserID     string                `yaml:"user_id"`
	Bundle     string                `yaml:"bundle"`
	Topic      string                `yaml:"topic"`
	Recipients []string              `yaml:"recipients"`
	Disabled   bool                  `yaml:"disabled"`
	Schedule   domain.ScheduleConfig `yaml:"schedule"`
}

func readManifest(path string) (manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return manifest{}, err
	}
	defer f.Close()
	return decodeManifest(f)
}

func decodeManifest(r io.Reader) (manifest, error) {
	var m manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return manifest{}, fmt.Errorf("разбор манифеста: %w", err)
	}
	return m, nil
}

func parseOptionalUUID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw)
}

// applyManifest сохраняет бандлы с источниками и создаёт или обновляет задачи.
func applyManifest(ctx context.Context, a *app.App, m manifest) ([]domain.AutoNewsletterJob, error) {
	for _, b := range m.Bundles {
		if strings.TrimSpace(b.Key) == "" {
			return nil, errors.New("у бандла не задан key")
		}
		bundle, err := a.Store.UpsertBundle(ctx, domain.Bundle{Key: b.Key, Label: b.Label})
		if err != nil {
			return nil, fmt.Errorf("бандл %s: %w", b.Key, err)
		}
		for _, s := range b.Sources {
			if !s.Type.Valid() {
				return nil, fmt.Errorf("бандл %s, источник %q: %w", b.Key, s.Identifier, domain.ErrUnknownSourceType)
			}
			if _, err := a.Store.UpsertSource(ctx, domain.Source{
				Type:       s.Type,
				Identifier: strings.TrimSpace(s.Identifier),
				BundleID:   bundle.ID,
				IsActive:   !s.Disabled,
			}); err != nil {
				return nil, fmt.Errorf("бандл %s, источник %q: %w", b.Key, s.Identifier, err)
			}
		}
	}

	out := make([]domain.AutoNewsletterJob, 0, len(m.Jobs))
	for i, j := range m.Jobs {
		id, err := parseOptionalUUID(j.ID)
		if err != nil {
			return nil, fmt.Errorf("задача #%d: id: %w", i+1, err)
		}
		userID, err := parseOptionalUUID(j.UserID)
		if err != nil {
			return nil, fmt.Errorf("задача #%d: user_id: %w", i+1, err)
		}
		bundle, err := a.Store.GetBundleByKey(ctx, j.Bundle)
		if err != nil {
			return nil, fmt.Errorf("задача #%d: бандл %q: %w", i+1, j.Bundle, err)
		}
		job, err := a.Schedules.Apply(ctx, domain.AutoNewsletterJob{
			ID:              id,
			UserID:          userID,
			BundleID:        bundle.ID,
			Topic:           strings.TrimSpace(j.Topic),
			EmailRecipients: j.Recipients,
			Schedule:        j.Schedule,
		})
		if err != nil {
			return nil, fmt.Errorf("задача #%d: %w", i+1, err)
		}
		if j.Disabled {
			if err := a.Schedules.SetActive(ctx, job.ID, false); err != nil {
				return nil, fmt.Errorf("задача #%d: %w", i+1, err)
			}
			job.IsActive = false
		}
		out = append(out, job)
	}
	return out, nil
}
