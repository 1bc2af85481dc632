package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

var chromemTracer = otel.Tracer("screenpilot.vectorstore.chromem")

// dimensionsCollection records the vector size of every other collection.
// chromem keeps collection metadata private, so each entry is a document
// with a one-dimensional embedding whose metadata holds the size.
const dimensionsCollection = "screenpilot_dimensions"

var errNoEmbeddingFunc = errors.New("chromem: documents must carry precomputed embeddings")

// ChromemConfig configures the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool
}

// ChromemStore implements Store on chromem-go.
//
// chromem normalizes every vector on insert and query, so its dot-product
// similarity is cosine similarity.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// mu serializes writes so the dimension check and the insert are atomic.
	mu   sync.Mutex
	dims sync.Map // collection name -> int
}

// NewChromemStore opens an in-memory or persistent chromem database.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandChromemPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrConnectionFailed, err)
		}
		config.Path = path
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{db: db, config: config, logger: logger}, nil
}

func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func noEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// Upsert writes records into collection, creating it on first use.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, records []Record) (n int, err error) {
	defer observe("chromem", "upsert", time.Now(), &err)

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("record_count", len(records)),
	)

	name, err := collectionKey(collection)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	dim, err := validateRecords(records)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	known, ok, err := s.dimension(ctx, name)
	if err != nil {
		span.RecordError(err)
		return 0, apperr.Wrap(apperr.Internal, err, "reading collection dimension")
	}
	if ok && known != dim {
		err = dimensionMismatch(known, dim)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	col, err := s.db.GetOrCreateCollection(name, map[string]string{"dimension": strconv.Itoa(dim)}, noEmbeddingFunc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, apperr.Wrap(apperr.Internal, err, "creating collection")
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Text,
			Embedding: append([]float32(nil), r.Vector...),
			Metadata: map[string]string{
				keySourceRef:     r.SourceRef,
				keySequenceIndex: strconv.Itoa(r.SequenceIndex),
				keyIngestedAt:    strconv.FormatInt(r.IngestedAt, 10),
			},
		}
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, apperr.Wrap(apperr.Internal, fmt.Errorf("adding documents: %w", err), "writing to vector store failed")
	}

	if !ok {
		if err := s.setDimension(ctx, name, dim); err != nil {
			span.RecordError(err)
			return 0, apperr.Wrap(apperr.Internal, err, "recording collection dimension")
		}
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records to chromem",
		zap.String("collection", name),
		zap.Int("count", len(docs)),
	)
	return len(docs), nil
}

// QuerySimilar scores every record in the collection and returns the topK
// best. Scoring the whole collection keeps tie order exact at the topK
// boundary; chromem scans every document on each query anyway.
func (s *ChromemStore) QuerySimilar(ctx context.Context, collection string, vector []float32, topK int) (results []Result, err error) {
	defer observe("chromem", "query", time.Now(), &err)

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.QuerySimilar")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("top_k", topK),
	)

	name, err := collectionKey(collection)
	if err != nil {
		return nil, err
	}
	if err := validateQuery(vector, topK); err != nil {
		return nil, err
	}

	col := s.db.GetCollection(name, noEmbeddingFunc)
	if col == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, collectionNotFound(name)
	}

	dim, ok, err := s.dimension(ctx, name)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.Internal, err, "reading collection dimension")
	}
	if ok && dim != len(vector) {
		return nil, dimensionMismatch(dim, len(vector))
	}

	count := col.Count()
	if count == 0 {
		return []Result{}, nil
	}

	docs, err := col.QueryEmbedding(ctx, vector, count, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, apperr.Wrap(apperr.Internal, fmt.Errorf("querying collection %s: %w", name, err), "vector query failed")
	}

	results = make([]Result, len(docs))
	for i, d := range docs {
		results[i] = Result{Record: recordFromChromem(d), Score: d.Similarity}
	}
	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("searched chromem collection",
		zap.String("collection", name),
		zap.Int("top_k", topK),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// DeleteSource removes every record whose source is sourceRef.
func (s *ChromemStore) DeleteSource(ctx context.Context, collection, sourceRef string) (err error) {
	defer observe("chromem", "delete", time.Now(), &err)

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteSource")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("source_ref", sourceRef),
	)

	name, err := collectionKey(collection)
	if err != nil {
		return err
	}
	if sourceRef == "" {
		return apperr.New(apperr.InvalidArgument, "source_ref is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(name, noEmbeddingFunc)
	if col == nil {
		return collectionNotFound(name)
	}
	if err := col.Delete(ctx, map[string]string{keySourceRef: sourceRef}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperr.Wrap(apperr.Internal, fmt.Errorf("deleting source %s: %w", sourceRef, err), "deleting document failed")
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted source from chromem",
		zap.String("collection", name),
		zap.String("source_ref", sourceRef),
	)
	return nil
}

// DeleteStale removes the records of sourceRef whose ingest stamp differs
// from keepIngestedAt.
func (s *ChromemStore) DeleteStale(ctx context.Context, collection, sourceRef string, keepIngestedAt int64) (err error) {
	defer observe("chromem", "delete_stale", time.Now(), &err)

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteStale")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("source_ref", sourceRef),
	)

	name, err := collectionKey(collection)
	if err != nil {
		return err
	}
	if sourceRef == "" {
		return apperr.New(apperr.InvalidArgument, "source_ref is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.db.GetCollection(name, noEmbeddingFunc)
	if col == nil {
		return nil
	}
	count := col.Count()
	if count == 0 {
		return nil
	}
	dim, ok, err := s.dimension(ctx, name)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "reading collection dimension")
	}
	if !ok {
		return nil
	}

	ones := make([]float32, dim)
	for i := range ones {
		ones[i] = 1
	}
	docs, err := col.QueryEmbedding(ctx, ones, count, map[string]string{keySourceRef: sourceRef}, nil)
	if err != nil {
		span.RecordError(err)
		return apperr.Wrap(apperr.Internal, err, "reading document chunks failed")
	}

	keep := strconv.FormatInt(keepIngestedAt, 10)
	var stale []string
	for _, d := range docs {
		if d.Metadata[keyIngestedAt] != keep {
			stale = append(stale, d.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, stale...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return apperr.Wrap(apperr.Internal, fmt.Errorf("deleting stale chunks of %s: %w", sourceRef, err), "deleting stale chunks failed")
	}

	span.SetAttributes(attribute.Int("deleted", len(stale)))
	s.logger.Debug("deleted stale chunks from chromem",
		zap.String("collection", name),
		zap.String("source_ref", sourceRef),
		zap.Int("count", len(stale)),
	)
	return nil
}

// ListSources returns every source in the collection with its chunk count.
func (s *ChromemStore) ListSources(ctx context.Context, collection string) (sources []SourceInfo, err error) {
	defer observe("chromem", "list", time.Now(), &err)

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.ListSources")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	name, err := collectionKey(collection)
	if err != nil {
		return nil, err
	}

	col := s.db.GetCollection(name, noEmbeddingFunc)
	if col == nil {
		return nil, collectionNotFound(name)
	}
	count := col.Count()
	if count == 0 {
		return []SourceInfo{}, nil
	}

	dim, ok, err := s.dimension(ctx, name)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "reading collection dimension")
	}
	if !ok {
		return nil, apperr.Newf(apperr.Internal, "dimension of collection %s is unknown", name)
	}

	// Any non-zero vector of the right size reaches every document.
	ones := make([]float32, dim)
	for i := range ones {
		ones[i] = 1
	}
	docs, err := col.QueryEmbedding(ctx, ones, count, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Wrap(apperr.Internal, err, "listing documents failed")
	}

	refs := make([]string, len(docs))
	for i, d := range docs {
		refs[i] = d.Metadata[keySourceRef]
	}
	sources = countSources(refs)

	span.SetAttributes(attribute.Int("source_count", len(sources)))
	return sources, nil
}

// Health reports whether the persistence directory is still reachable.
func (s *ChromemStore) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.config.Path == "" {
		return nil
	}
	if _, err := os.Stat(s.config.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// dimension returns the recorded vector size of collection name.
func (s *ChromemStore) dimension(ctx context.Context, name string) (int, bool, error) {
	if v, ok := s.dims.Load(name); ok {
		return v.(int), true, nil
	}

	meta := s.db.GetCollection(dimensionsCollection, noEmbeddingFunc)
	if meta == nil {
		return 0, false, nil
	}
	count := meta.Count()
	if count == 0 {
		return 0, false, nil
	}
	entries, err := meta.QueryEmbedding(ctx, []float32{1}, count, nil, nil)
	if err != nil {
		return 0, false, fmt.Errorf("reading dimensions: %w", err)
	}
	for _, e := range entries {
		if e.ID != name {
			continue
		}
		dim, err := strconv.Atoi(e.Metadata["dimension"])
		if err != nil {
			return 0, false, fmt.Errorf("parsing dimension of %s: %w", name, err)
		}
		s.dims.Store(name, dim)
		return dim, true, nil
	}
	return 0, false, nil
}

func (s *ChromemStore) setDimension(ctx context.Context, name string, dim int) error {
	meta, err := s.db.GetOrCreateCollection(dimensionsCollection, nil, noEmbeddingFunc)
	if err != nil {
		return fmt.Errorf("opening dimensions collection: %w", err)
	}
	doc := chromem.Document{
		ID:        name,
		Content:   name,
		Embedding: []float32{1},
		Metadata:  map[string]string{"dimension": strconv.Itoa(dim)},
	}
	if err := meta.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("recording dimension: %w", err)
	}
	s.dims.Store(name, dim)
	return nil
}

func recordFromChromem(r chromem.Result) Record {
	seq, _ := strconv.Atoi(r.Metadata[keySequenceIndex])
	at, _ := strconv.ParseInt(r.Metadata[keyIngestedAt], 10, 64)
	return Record{
		ID:            r.ID,
		Text:          r.Content,
		SourceRef:     r.Metadata[keySourceRef],
		SequenceIndex: seq,
		IngestedAt:    at,
	}
}

var _ Store = (*ChromemStore)(nil)
