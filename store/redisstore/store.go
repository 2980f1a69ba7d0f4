// Package redisstore stores audit partitions in Redis.
//
// Layout, for a key prefix P:
//
//	P:template:<name>   hash   definition, version
//	P:templates         set    template names
//	P:idx:<partition>   hash   document id -> JSON source
//	P:ts:<partition>    zset   document id scored by timestamp (ms)
//	P:partitions        set    partition names
//
// Writing the same document ID twice replaces the first copy, which makes
// flusher retries idempotent.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goAudit/store"
)

// DefaultPrefix is the key prefix used when none is given.
const DefaultPrefix = "goaudit"

const putTemplateScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "definition", ARGV[2], "version", ARGV[3])
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`

var putTemplateLua = redis.NewScript(putTemplateScript)

// Store implements store.Store on a redis.UniversalClient.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ store.Store = (*Store)(nil)

// New wraps rdb. An empty prefix selects DefaultPrefix.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) templateKey(name string) string {
	return s.prefix + ":template:" + name
}

func (s *Store) templatesKey() string {
	return s.prefix + ":templates"
}

func (s *Store) partitionsKey() string {
	return s.prefix + ":partitions"
}

func (s *Store) docsKey(partition string) string {
	return s.prefix + ":idx:" + partition
}

func (s *Store) timeKey(partition string) string {
	return s.prefix + ":ts:" + partition
}

// PutTemplateIfAbsent creates the template hash atomically.
func (s *Store) PutTemplateIfAbsent(ctx context.Context, tmpl store.Template) (bool, error) {
	if tmpl.Name == "" || tmpl.Pattern == "" {
		return false, fmt.Errorf("%w: template requires name and pattern", store.ErrMalformed)
	}
	def, err := json.Marshal(tmpl)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrMalformed, err)
	}

	created, err := putTemplateLua.Run(
		ctx,
		s.redis,
		[]string{s.templateKey(tmpl.Name), s.templatesKey()},
		tmpl.Name,
		string(def),
		strconv.Itoa(tmpl.Version),
	).Int()
	if err != nil {
		return false, classify(err)
	}
	return created == 1, nil
}

// TemplateExists checks for the template hash.
func (s *Store) TemplateExists(ctx context.Context, name string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.templateKey(name)).Result()
	if err != nil {
		return false, classify(err)
	}
	return n == 1, nil
}

// DeleteTemplate removes the template hash and its index entry.
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.templateKey(name))
		pipe.SRem(ctx, s.templatesKey(), name)
		return nil
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) loadTemplates(ctx context.Context) ([]store.Template, error) {
	names, err := s.redis.SMembers(ctx, s.templatesKey()).Result()
	if err != nil {
		return nil, classify(err)
	}
	if len(names) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HGet(ctx, s.templateKey(name), "definition")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, classify(err)
	}

	out := make([]store.Template, 0, len(names))
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			// Listed but deleted concurrently.
			continue
		}
		var tmpl store.Template
		if err := json.Unmarshal([]byte(raw), &tmpl); err != nil {
			continue
		}
		out = append(out, tmpl)
	}
	return out, nil
}

// Bulk validates documents against the stored templates and writes the
// accepted ones in a single pipeline.
func (s *Store) Bulk(ctx context.Context, docs []store.Document) (store.BulkResponse, error) {
	resp := store.BulkResponse{Items: make([]store.ItemStatus, len(docs))}
	if len(docs) == 0 {
		return resp, nil
	}

	templates, err := s.loadTemplates(ctx)
	if err != nil {
		return store.BulkResponse{}, err
	}

	type pending struct {
		index int
		hset  *redis.IntCmd
		zadd  *redis.IntCmd
	}
	pipe := s.redis.Pipeline()
	queued := make([]pending, 0, len(docs))
	partitions := make(map[string]struct{})

	for i, doc := range docs {
		resp.Items[i] = store.ItemStatus{ID: doc.ID, Partition: doc.Partition}
		if tmpl, ok := store.MatchTemplate(templates, doc.Partition); ok {
			if verr := tmpl.Validate(doc); verr != nil {
				resp.Items[i].Err = verr
				continue
			}
		}
		queued = append(queued, pending{
			index: i,
			hset:  pipe.HSet(ctx, s.docsKey(doc.Partition), doc.ID, doc.Source),
			zadd: pipe.ZAdd(ctx, s.timeKey(doc.Partition), redis.Z{
				Score:  float64(store.TimestampMillis(doc.Timestamp)),
				Member: doc.ID,
			}),
		})
		partitions[doc.Partition] = struct{}{}
	}
	if len(queued) == 0 {
		return resp, nil
	}
	for p := range partitions {
		pipe.SAdd(ctx, s.partitionsKey(), p)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		var rerr redis.Error
		if !errors.As(err, &rerr) || isPermission(err) || isTransient(err) {
			return store.BulkResponse{}, classify(err)
		}
		// Command-level errors are reported per document below.
	}

	for _, q := range queued {
		if err := q.hset.Err(); err != nil {
			resp.Items[q.index].Err = classify(err)
			continue
		}
		if err := q.zadd.Err(); err != nil {
			resp.Items[q.index].Err = classify(err)
		}
	}
	return resp, nil
}

// Search reads the selected partitions, narrowing by the timestamp index when
// the query carries a range.
func (s *Store) Search(ctx context.Context, q store.Query) (store.SearchResult, error) {
	partitions := q.Partitions
	if len(partitions) == 0 {
		all, err := s.redis.SMembers(ctx, s.partitionsKey()).Result()
		if err != nil {
			return store.SearchResult{}, classify(err)
		}
		for _, p := range all {
			if q.Selects(p) {
				partitions = append(partitions, p)
			}
		}
	}

	min, max := "-inf", "+inf"
	if !q.From.IsZero() {
		min = strconv.FormatInt(store.TimestampMillis(q.From), 10)
	}
	if !q.To.IsZero() {
		max = strconv.FormatInt(store.TimestampMillis(q.To), 10)
	}

	var matches []store.Document
	for _, p := range partitions {
		scored, err := s.redis.ZRangeByScoreWithScores(ctx, s.timeKey(p), &redis.ZRangeBy{Min: min, Max: max}).Result()
		if err != nil {
			return store.SearchResult{}, classify(err)
		}
		if len(scored) == 0 {
			continue
		}
		ids := make([]string, len(scored))
		for i, z := range scored {
			ids[i], _ = z.Member.(string)
		}
		sources, err := s.redis.HMGet(ctx, s.docsKey(p), ids...).Result()
		if err != nil {
			return store.SearchResult{}, classify(err)
		}
		for i, raw := range sources {
			src, ok := raw.(string)
			if !ok {
				continue
			}
			doc := store.Document{
				Partition: p,
				ID:        ids[i],
				Timestamp: sourceTimestamp([]byte(src), time.UnixMilli(int64(scored[i].Score)).UTC()),
				Source:    []byte(src),
			}
			if q.Accepts(doc) {
				matches = append(matches, doc)
			}
		}
	}
	return store.Collect(matches, q.Limit), nil
}

// sourceTimestamp returns the document's own @timestamp. The zset score only
// keeps milliseconds.
func sourceTimestamp(src []byte, fallback time.Time) time.Time {
	var head struct {
		Timestamp time.Time `json:"@timestamp"`
	}
	if err := json.Unmarshal(src, &head); err != nil || head.Timestamp.IsZero() {
		return fallback
	}
	return head.Timestamp.UTC()
}

// transientCodes are server replies that clear up without operator action:
// replica promotion, dataset loading, cluster resharding, busy scripts and
// memory pressure.
var transientCodes = map[string]struct{}{
	"LOADING":     {},
	"READONLY":    {},
	"MASTERDOWN":  {},
	"CLUSTERDOWN": {},
	"TRYAGAIN":    {},
	"BUSY":        {},
	"OOM":         {},
	"NOREPLICAS":  {},
}

func errorCode(err error) string {
	code, _, _ := strings.Cut(err.Error(), " ")
	return code
}

func isPermission(err error) bool {
	return errorCode(err) == "NOPERM"
}

func isTransient(err error) bool {
	_, ok := transientCodes[errorCode(err)]
	return ok
}

func classify(err error) error {
	if isPermission(err) {
		return fmt.Errorf("%w: %v", store.ErrPermissionDenied, err)
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	var rerr redis.Error
	if errors.As(err, &rerr) && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", store.ErrMalformed, err)
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
