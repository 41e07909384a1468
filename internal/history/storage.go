package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketOutcomes  = []byte("outcomes")
	bucketCampaigns = []byte("campaigns")
)

// OutcomeRecord is one journaled send outcome. Records are immutable
// once written; they exist so operators can inspect failing phone
// numbers and raw gateway messages after a campaign ends.
type OutcomeRecord struct {
	CampaignID string    `json:"campaign_id"`
	Seq        int       `json:"seq"`
	Phone      string    `json:"phone"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	RawMessage string    `json:"raw_message,omitempty"`
	Attempts   int       `json:"attempts"`
	Timestamp  time.Time `json:"timestamp"`
}

// CampaignRecord is the journaled summary of one campaign.
type CampaignRecord struct {
	ID           string    `json:"id"`
	Phase        string    `json:"phase"`
	TotalSuccess int       `json:"total_success"`
	TotalFailed  int       `json:"total_failed"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Store is a BoltDB-backed journal of campaign outcomes.
type Store struct {
	db *bolt.DB
}

// NewStore opens (or creates) the journal database.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketOutcomes, bucketCampaigns} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Append journals one send outcome.
func (s *Store) Append(rec *OutcomeRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal outcome: %w", err)
		}
		return tx.Bucket(bucketOutcomes).Put(outcomeKey(rec.CampaignID, rec.Seq), data)
	})
}

// List returns all journaled outcomes for a campaign in send order.
func (s *Store) List(campaignID string) ([]*OutcomeRecord, error) {
	var records []*OutcomeRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOutcomes).Cursor()
		prefix := []byte(campaignID + "/")

		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec OutcomeRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // Skip invalid entries
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// SaveCampaign journals the campaign summary.
func (s *Store) SaveCampaign(rec *CampaignRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		return tx.Bucket(bucketCampaigns).Put([]byte(rec.ID), data)
	})
}

// GetCampaign returns the journaled summary for a campaign, or nil if
// none was recorded.
func (s *Store) GetCampaign(id string) (*CampaignRecord, error) {
	var rec *CampaignRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCampaigns).Get([]byte(id))
		if data == nil {
			return nil
		}
		var r CampaignRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return fmt.Errorf("failed to unmarshal campaign: %w", err)
		}
		rec = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Cleanup deletes campaigns (and their outcomes) finished before the
// retention cutoff. A zero maxAge keeps everything.
func (s *Store) Cleanup(maxAge time.Duration) (int, error) {
	if maxAge == 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		campaigns := tx.Bucket(bucketCampaigns)
		outcomes := tx.Bucket(bucketOutcomes)

		var expired []string
		err := campaigns.ForEach(func(k, v []byte) error {
			var rec CampaignRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if !rec.FinishedAt.IsZero() && rec.FinishedAt.Before(cutoff) {
				expired = append(expired, rec.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range expired {
			if err := campaigns.Delete([]byte(id)); err != nil {
				return err
			}

			c := outcomes.Cursor()
			prefix := []byte(id + "/")
			for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
				if err := c.Delete(); err != nil {
					return err
				}
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// outcomeKey builds a key that sorts outcomes of one campaign in send
// order: "<campaignID>/<big-endian seq>".
func outcomeKey(campaignID string, seq int) []byte {
	key := make([]byte, 0, len(campaignID)+9)
	key = append(key, campaignID...)
	key = append(key, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return append(key, buf[:]...)
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
