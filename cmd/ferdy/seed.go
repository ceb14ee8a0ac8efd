package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	appLog "ferdy/internal/log"
	"ferdy/internal/model"
	"ferdy/internal/store"
)

// seedFile is the -seed document. Dates are YYYY-MM-DD.
type seedFile struct {
	Brands []struct {
		ID            string `yaml:"id"`
		Name          string `yaml:"name"`
		Timezone      string `yaml:"timezone"`
		Subcategories []struct {
			ID          string   `yaml:"id"`
			Name        string   `yaml:"name"`
			Description string   `yaml:"description"`
			URL         string   `yaml:"url"`
			Assets      []string `yaml:"assets"`
		} `yaml:"subcategories"`
		Rules []struct {
			ID          string   `yaml:"id"`
			Subcategory string   `yaml:"subcategory"`
			Frequency   string   `yaml:"frequency"`
			DaysOfWeek  []int    `yaml:"days_of_week"`
			DayOfMonth  []int    `yaml:"day_of_month"`
			NthWeek     int      `yaml:"nth_week"`
			Weekday     int      `yaml:"weekday"`
			StartDate   string   `yaml:"start_date"`
			EndDate     string   `yaml:"end_date"`
			DaysBefore  []int    `yaml:"days_before"`
			DaysDuring  []int    `yaml:"days_during"`
			TimeOfDay   string   `yaml:"time_of_day"`
			URL         string   `yaml:"url"`
			Inactive    bool     `yaml:"inactive"`
			Channels    []string `yaml:"channels"`
		} `yaml:"rules"`
	} `yaml:"brands"`
}

// loadSeed upserts the brands of a seed file.
func loadSeed(ctx context.Context, st *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}

	rules := 0
	for _, b := range doc.Brands {
		brand := model.Brand{ID: b.ID, Name: b.Name, Timezone: b.Timezone}
		if err := st.PutBrand(ctx, &brand); err != nil {
			return err
		}
		for _, sc := range b.Subcategories {
			sub := model.Subcategory{ID: sc.ID, BrandID: brand.ID, Name: sc.Name, Description: sc.Description, URL: sc.URL}
			if err := st.PutSubcategory(ctx, &sub); err != nil {
				return err
			}
			for _, id := range sc.Assets {
				if err := st.PutAsset(ctx, &model.Asset{ID: id, BrandID: brand.ID, SubcategoryID: sub.ID}); err != nil {
					return err
				}
			}
		}
		for _, r := range b.Rules {
			start, err := seedDate(r.StartDate)
			if err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
			end, err := seedDate(r.EndDate)
			if err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
			rule := model.ScheduleRule{
				ID:            r.ID,
				BrandID:       brand.ID,
				SubcategoryID: r.Subcategory,
				Frequency:     model.Frequency(r.Frequency),
				DaysOfWeek:    r.DaysOfWeek,
				DayOfMonth:    r.DayOfMonth,
				NthWeek:       r.NthWeek,
				Weekday:       r.Weekday,
				StartDate:     start,
				EndDate:       end,
				DaysBefore:    r.DaysBefore,
				DaysDuring:    r.DaysDuring,
				TimeOfDay:     r.TimeOfDay,
				URL:           r.URL,
				IsActive:      !r.Inactive,
				Channels:      r.Channels,
			}
			if err := st.PutRule(ctx, &rule); err != nil {
				return err
			}
			rules++
		}
	}
	appLog.Info("seed loaded", "path", path, "brands", len(doc.Brands), "rules", rules)
	return nil
}

func seedDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", s)
	}
	return &t, nil
}
