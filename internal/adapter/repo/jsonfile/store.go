// Package jsonfile persists the broker ledger as periodic JSON snapshots.
//
// Three files live under the configured directory: users.json, servers.json
// and stats.json. Persistence is a snapshot, not a write-ahead log: a crash
// loses at most one snapshot interval. A missing file means empty state; a
// malformed file is fatal to startup.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fairyhunter13/ai-text-broker/internal/domain"
)

const (
	usersFile   = "users.json"
	serversFile = "servers.json"
	statsFile   = "stats.json"

	timeLayout = "2006-01-02 15:04:05"
)

// Store reads and writes the snapshot files under dir.
type Store struct {
	dir string
}

// New creates a store rooted at dir. The directory is created on first save.
func New(dir string) *Store { return &Store{dir: dir} }

type contributionsRecord struct {
	Chars        int64 `json:"chars"`
	Fulfillments int64 `json:"fulfillments"`
}

type usageRecord struct {
	Chars    int64 `json:"chars"`
	Requests int64 `json:"requests"`
}

type userRecord struct {
	Username      string              `json:"username"`
	OAuthID       string              `json:"oauth_id"`
	APIKey        string              `json:"api_key"`
	Kudos         float64             `json:"kudos"`
	KudosDetails  map[string]float64  `json:"kudos_details"`
	ID            int                 `json:"id"`
	InviteID      string              `json:"invite_id"`
	Contributions contributionsRecord `json:"contributions"`
	Usage         usageRecord         `json:"usage"`
	CreationDate  string              `json:"creation_date"`
	LastActive    string              `json:"last_active"`
}

type workerRecord struct {
	OAuthID          string             `json:"oauth_id"`
	Name             string             `json:"name"`
	Model            string             `json:"model"`
	MaxLength        int                `json:"max_length"`
	MaxContentLength int                `json:"max_content_length"`
	Contributions    int64              `json:"contributions"`
	Fulfilments      int64              `json:"fulfilments"`
	Kudos            float64            `json:"kudos"`
	KudosDetails     map[string]float64 `json:"kudos_details"`
	Performances     []float64          `json:"performances"`
	LastCheckIn      string             `json:"last_check_in"`
	ID               string             `json:"id"`
	SoftPrompts      []string           `json:"softprompts"`
	Uptime           int64              `json:"uptime"`
}

type statsRecord struct {
	FulfilmentTimes  []float64          `json:"fulfilment_times"`
	ModelMultipliers map[string]float64 `json:"model_multipliers"`
}

// Load reads the three snapshot files. Users load before workers so the
// caller can resolve worker owner links.
func (s *Store) Load() ([]domain.User, []domain.Worker, domain.Stats, error) {
	var userRecs []userRecord
	if err := s.readFile(usersFile, &userRecs); err != nil {
		return nil, nil, domain.Stats{}, err
	}
	users := make([]domain.User, 0, len(userRecs))
	for _, rec := range userRecs {
		u, err := rec.toUser()
		if err != nil {
			return nil, nil, domain.Stats{}, fmt.Errorf("%s: %w", usersFile, err)
		}
		users = append(users, u)
	}

	var workerRecs []workerRecord
	if err := s.readFile(serversFile, &workerRecs); err != nil {
		return nil, nil, domain.Stats{}, err
	}
	workers := make([]domain.Worker, 0, len(workerRecs))
	for _, rec := range workerRecs {
		w, err := rec.toWorker()
		if err != nil {
			return nil, nil, domain.Stats{}, fmt.Errorf("%s: %w", serversFile, err)
		}
		workers = append(workers, w)
	}

	stats := domain.NewStats()
	var statsRec statsRecord
	if err := s.readFile(statsFile, &statsRec); err != nil {
		return nil, nil, domain.Stats{}, err
	}
	if statsRec.FulfilmentTimes != nil {
		stats.FulfilmentTimes = statsRec.FulfilmentTimes
	}
	if statsRec.ModelMultipliers != nil {
		stats.ModelMultipliers = statsRec.ModelMultipliers
	}
	return users, workers, stats, nil
}

// Save writes all three snapshot files atomically (write temp, rename).
func (s *Store) Save(users []domain.User, workers []domain.Worker, stats domain.Stats) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("op=jsonfile.Save: %w", err)
	}
	userRecs := make([]userRecord, 0, len(users))
	for i := range users {
		userRecs = append(userRecs, fromUser(&users[i]))
	}
	if err := s.writeFile(usersFile, userRecs); err != nil {
		return err
	}
	workerRecs := make([]workerRecord, 0, len(workers))
	for i := range workers {
		workerRecs = append(workerRecs, fromWorker(&workers[i]))
	}
	if err := s.writeFile(serversFile, workerRecs); err != nil {
		return err
	}
	return s.writeFile(statsFile, statsRecord{
		FulfilmentTimes:  stats.FulfilmentTimes,
		ModelMultipliers: stats.ModelMultipliers,
	})
}

func (s *Store) readFile(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("op=jsonfile.Load file=%s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("op=jsonfile.Load file=%s: %w", name, err)
	}
	return nil
}

func (s *Store) writeFile(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=jsonfile.Save file=%s: %w", name, err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("op=jsonfile.Save file=%s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("op=jsonfile.Save file=%s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("op=jsonfile.Save file=%s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("op=jsonfile.Save file=%s: %w", name, err)
	}
	return nil
}

func fromUser(u *domain.User) userRecord {
	return userRecord{
		Username:     u.Username,
		OAuthID:      u.OAuthID,
		APIKey:       u.APIKey,
		Kudos:        u.Kudos,
		KudosDetails: u.KudosDetails,
		ID:           u.ID,
		InviteID:     u.InviteID,
		Contributions: contributionsRecord{
			Chars:        u.ContributedChars,
			Fulfillments: u.ContributedFulfills,
		},
		Usage: usageRecord{
			Chars:    u.UsedChars,
			Requests: u.UsedRequests,
		},
		CreationDate: u.CreationDate.Format(timeLayout),
		LastActive:   u.LastActive.Format(timeLayout),
	}
}

func (rec userRecord) toUser() (domain.User, error) {
	created, err := time.Parse(timeLayout, rec.CreationDate)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %q creation_date: %w", rec.OAuthID, err)
	}
	lastActive, err := time.Parse(timeLayout, rec.LastActive)
	if err != nil {
		return domain.User{}, fmt.Errorf("user %q last_active: %w", rec.OAuthID, err)
	}
	details := rec.KudosDetails
	if details == nil {
		details = map[string]float64{}
	}
	return domain.User{
		ID:                  rec.ID,
		Username:            rec.Username,
		OAuthID:             rec.OAuthID,
		APIKey:              rec.APIKey,
		InviteID:            rec.InviteID,
		CreationDate:        created,
		LastActive:          lastActive,
		Kudos:               rec.Kudos,
		KudosDetails:        details,
		ContributedChars:    rec.Contributions.Chars,
		ContributedFulfills: rec.Contributions.Fulfillments,
		UsedChars:           rec.Usage.Chars,
		UsedRequests:        rec.Usage.Requests,
	}, nil
}

func fromWorker(w *domain.Worker) workerRecord {
	return workerRecord{
		OAuthID:          w.OwnerOAuthID,
		Name:             w.Name,
		Model:            w.Model,
		MaxLength:        w.MaxLength,
		MaxContentLength: w.MaxContentLength,
		Contributions:    w.ContributedChars,
		Fulfilments:      w.Fulfilments,
		Kudos:            w.Kudos,
		KudosDetails:     w.KudosDetails,
		Performances:     w.Performances,
		LastCheckIn:      w.LastCheckIn.Format(timeLayout),
		ID:               w.ID,
		SoftPrompts:      w.SoftPrompts,
		Uptime:           w.UptimeSeconds,
	}
}

func (rec workerRecord) toWorker() (domain.Worker, error) {
	lastCheckIn, err := time.Parse(timeLayout, rec.LastCheckIn)
	if err != nil {
		return domain.Worker{}, fmt.Errorf("worker %q last_check_in: %w", rec.Name, err)
	}
	details := rec.KudosDetails
	if details == nil {
		details = map[string]float64{}
	}
	return domain.Worker{
		ID:               rec.ID,
		Name:             rec.Name,
		OwnerOAuthID:     rec.OAuthID,
		Model:            rec.Model,
		MaxLength:        rec.MaxLength,
		MaxContentLength: rec.MaxContentLength,
		SoftPrompts:      rec.SoftPrompts,
		ContributedChars: rec.Contributions,
		Fulfilments:      rec.Fulfilments,
		Kudos:            rec.Kudos,
		KudosDetails:     details,
		Performances:     rec.Performances,
		UptimeSeconds:    rec.Uptime,
		LastCheckIn:      lastCheckIn,
	}, nil
}
