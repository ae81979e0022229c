// Package taskstore persists Task snapshots in the cache service, keeping
// the primary record small by externalizing large artifact payloads
// (file/data parts) to side keys.
package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/cache"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// cacheKeyMetadataField is the metadata key under which an externalized
// part's derived cache key is recorded before persistence, and stripped
// again on load.
const cacheKeyMetadataField = "cacheKey"

// Store durably persists and reloads task snapshots.
type Store struct {
	adapter *cache.Adapter
	logger  *zap.Logger
}

// New builds a Store over adapter.
func New(adapter *cache.Adapter, logger *zap.Logger) *Store {
	return &Store{adapter: adapter, logger: logger.Named("taskstore")}
}

// Save serializes task, externalizing file/data artifact parts first. Errors
// are logged and swallowed: callers must tolerate a best-effort store.
func (s *Store) Save(ctx context.Context, task *a2a.Task, ttlSeconds int) {
	if task == nil {
		return
	}
	externalized := task.Clone()
	for ai := range externalized.Artifacts {
		art := &externalized.Artifacts[ai]
		for pi := range art.Parts {
			if err := s.externalizePart(ctx, task.ID, art.ArtifactID, &art.Parts[pi], ttlSeconds); err != nil {
				s.logger.Error("failed to externalize artifact part, storing inline",
					zap.String("taskId", task.ID), zap.String("artifactId", art.ArtifactID), zap.Error(err))
			}
		}
	}

	opts := cache.SetOptions{}
	if ttlSeconds > 0 {
		opts.TTL = secondsToDuration(ttlSeconds)
	}
	if err := s.adapter.Set(ctx, task.ID, externalized, opts); err != nil {
		s.logger.Error("failed to save task", zap.String("taskId", task.ID), zap.Error(err))
	}
}

// Load retrieves a task snapshot, rehydrating externalized parts. Returns
// (nil, false) if absent or on any error; callers map that to TaskNotFound.
func (s *Store) Load(ctx context.Context, taskID string) (*a2a.Task, bool) {
	result, err := s.adapter.Get(ctx, taskID, cache.FormatJSON)
	if err != nil {
		s.logger.Error("failed to load task", zap.String("taskId", taskID), zap.Error(err))
		return nil, false
	}
	if result.Absent || !result.Success {
		return nil, false
	}

	var task a2a.Task
	if err := json.Unmarshal(result.Data, &task); err != nil {
		s.logger.Error("failed to decode task", zap.String("taskId", taskID), zap.Error(err))
		return nil, false
	}

	for ai := range task.Artifacts {
		art := &task.Artifacts[ai]
		for pi := range art.Parts {
			if err := s.rehydratePart(ctx, &art.Parts[pi]); err != nil {
				s.logger.Error("failed to rehydrate artifact part",
					zap.String("taskId", taskID), zap.String("artifactId", art.ArtifactID), zap.Error(err))
			}
		}
	}
	return &task, true
}

// Delete removes a task snapshot. Externalized blob keys are intentionally
// left to expire via their own TTL rather than tracked for cleanup here.
func (s *Store) Delete(ctx context.Context, taskID string) {
	if err := s.adapter.Delete(ctx, taskID); err != nil {
		s.logger.Error("failed to delete task", zap.String("taskId", taskID), zap.Error(err))
	}
}

func (s *Store) externalizePart(ctx context.Context, taskID, artifactID string, part *a2a.Part, ttlSeconds int) error {
	var payload interface{}
	switch part.Kind {
	case a2a.PartKindFile:
		if part.File == nil || part.File.Bytes == nil {
			return nil
		}
		payload = *part.File.Bytes
	case a2a.PartKindData:
		if part.Data == nil {
			return nil
		}
		b, err := json.Marshal(*part.Data)
		if err != nil {
			return fmt.Errorf("marshal data part: %w", err)
		}
		payload = string(b)
	default:
		return nil
	}

	key := fmt.Sprintf("artifact:%s:%s:%s", taskID, artifactID, uuid.NewString())
	opts := cache.SetOptions{}
	if ttlSeconds > 0 {
		opts.TTL = secondsToDuration(ttlSeconds)
	}
	if err := s.adapter.Set(ctx, key, payload, opts); err != nil {
		return err
	}

	meta := map[string]interface{}{}
	if part.Metadata != nil {
		for k, v := range *part.Metadata {
			meta[k] = v
		}
	}
	meta[cacheKeyMetadataField] = key
	part.Metadata = &meta

	switch part.Kind {
	case a2a.PartKindFile:
		empty := ""
		fc := *part.File
		fc.Bytes = &empty
		part.File = &fc
	case a2a.PartKindData:
		empty := map[string]interface{}{}
		part.Data = &empty
	}
	return nil
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func (s *Store) rehydratePart(ctx context.Context, part *a2a.Part) error {
	if part.Metadata == nil {
		return nil
	}
	raw, ok := (*part.Metadata)[cacheKeyMetadataField]
	if !ok {
		return nil
	}
	key, ok := raw.(string)
	if !ok || key == "" {
		return nil
	}

	result, err := s.adapter.Get(ctx, key, cache.FormatString)
	if err != nil {
		return err
	}
	if result.Absent || !result.Success {
		return fmt.Errorf("externalized payload missing for key %q", key)
	}

	switch part.Kind {
	case a2a.PartKindFile:
		val := string(result.Data)
		fc := a2a.FileContent{}
		if part.File != nil {
			fc = *part.File
		}
		fc.Bytes = &val
		part.File = &fc
	case a2a.PartKindData:
		var decoded map[string]interface{}
		if err := json.Unmarshal(result.Data, &decoded); err != nil {
			return fmt.Errorf("decode externalized data part: %w", err)
		}
		part.Data = &decoded
	}

	cleaned := make(map[string]interface{}, len(*part.Metadata))
	for k, v := range *part.Metadata {
		if k == cacheKeyMetadataField {
			continue
		}
		cleaned[k] = v
	}
	if len(cleaned) == 0 {
		part.Metadata = nil
	} else {
		part.Metadata = &cleaned
	}
	return nil
}
