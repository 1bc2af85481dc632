package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/screenpilot/internal/apperr"
)

var qdrantTracer = otel.Tracer("screenpilot.vectorstore.qdrant")

// pointNamespace derives point UUIDs from record IDs so re-ingesting a
// chunk overwrites its point.
var pointNamespace = uuid.MustParse("6f1f6c2e-8a0e-4d59-9a54-3c2b8f1d7e40")

// scrollPageSize bounds each page read by ListSources.
const scrollPageSize = 256

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost".
	Host string

	// Port is the gRPC port, not the REST port. Default: 6334.
	Port int

	APIKey string
	UseTLS bool

	// MaxRetries bounds retries of transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the first retry delay; later delays grow exponentially.
	// Default: 200ms.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message limit in bytes. Default: 50MB.
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of consecutive transient
	// failures that opens the circuit. Default: 5.
	CircuitBreakerThreshold int

	// CircuitBreakerCooldown is how long an open circuit rejects calls.
	// Default: 30s.
	CircuitBreakerCooldown time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerCooldown == 0 {
		c.CircuitBreakerCooldown = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if err == nil || !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantStore implements Store on Qdrant's native gRPC client.
//
// Record IDs are mapped to UUIDv5 point IDs and kept in the payload
// alongside the text and ordering fields.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// dims caches collection vector sizes read from collection info.
	dims sync.Map

	circuitBreaker struct {
		mu       sync.Mutex
		failures int
		openedAt time.Time
	}
}

// NewQdrantStore connects to Qdrant and performs a health check.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC is using plaintext, enable use_tls outside local development",
			zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Health(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.Bool("tls", config.UseTLS),
	)
	return store, nil
}

// PointID returns the Qdrant point UUID for a record ID.
func PointID(recordID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(recordID)).String()
}

// Upsert writes records, creating the collection with cosine distance on
// first use.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) (n int, err error) {
	defer observe("qdrant", "upsert", time.Now(), &err)

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
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
		return 0, err
	}

	known, err := s.collectionDimension(ctx, name)
	switch {
	case errors.Is(err, ErrCollectionNotFound):
		if err := s.createCollection(ctx, name, dim); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, s.classify(err, "creating collection failed")
		}
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, s.classify(err, "reading collection failed")
	case known != dim:
		return 0, dimensionMismatch(known, dim)
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: map[string]*qdrant.Value{
				keyRecordID:      qdrant.NewValueString(r.ID),
				keyText:          qdrant.NewValueString(r.Text),
				keySourceRef:     qdrant.NewValueString(r.SourceRef),
				keySequenceIndex: qdrant.NewValueInt(int64(r.SequenceIndex)),
				keyIngestedAt:    qdrant.NewValueInt(r.IngestedAt),
			},
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, s.classify(err, "writing to vector store failed")
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records to qdrant",
		zap.String("collection", name),
		zap.Int("count", len(points)),
	)
	return len(points), nil
}

// QuerySimilar returns the topK nearest points. Qdrant picks the topK; ties
// inside that set are then put in insertion order.
func (s *QdrantStore) QuerySimilar(ctx context.Context, collection string, vector []float32, topK int) (results []Result, err error) {
	defer observe("qdrant", "query", time.Now(), &err)

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.QuerySimilar")
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

	dim, err := s.collectionDimension(ctx, name)
	if errors.Is(err, ErrCollectionNotFound) {
		span.SetStatus(codes.Error, "collection not found")
		return nil, collectionNotFound(name)
	}
	if err != nil {
		span.RecordError(err)
		return nil, s.classify(err, "reading collection failed")
	}
	if dim != len(vector) {
		return nil, dimensionMismatch(dim, len(vector))
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: name,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return nil, collectionNotFound(name)
		}
		return nil, s.classify(err, "vector query failed")
	}

	results = make([]Result, len(points))
	for i, p := range points {
		results[i] = Result{Record: recordFromPayload(p.GetPayload()), Score: p.GetScore()}
	}
	sortResults(results)

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteSource removes every point whose source_ref matches.
func (s *QdrantStore) DeleteSource(ctx context.Context, collection, sourceRef string) (err error) {
	defer observe("qdrant", "delete", time.Now(), &err)

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteSource")
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

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: sourceFilter(sourceRef),
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isNotFound(err) {
			return collectionNotFound(name)
		}
		return s.classify(err, "deleting document failed")
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted source from qdrant",
		zap.String("collection", name),
		zap.String("source_ref", sourceRef),
	)
	return nil
}

// DeleteStale deletes the points of sourceRef whose ingest stamp differs
// from keepIngestedAt.
func (s *QdrantStore) DeleteStale(ctx context.Context, collection, sourceRef string, keepIngestedAt int64) (err error) {
	defer observe("qdrant", "delete_stale", time.Now(), &err)

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteStale")
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

	filter := staleFilter(sourceRef, keepIngestedAt)
	err = s.retryOperation(ctx, "delete_stale", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.classify(err, "deleting stale chunks failed")
	}
	return nil
}

// ListSources scrolls the collection payloads and counts chunks per source.
func (s *QdrantStore) ListSources(ctx context.Context, collection string) (sources []SourceInfo, err error) {
	defer observe("qdrant", "list", time.Now(), &err)

	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.ListSources")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	name, err := collectionKey(collection)
	if err != nil {
		return nil, err
	}

	var refs []string
	var offset *qdrant.PointId
	for {
		var page []*qdrant.RetrievedPoint
		var next *qdrant.PointId
		err := s.retryOperation(ctx, "scroll", func() error {
			var err error
			page, next, err = s.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
				CollectionName: name,
				Offset:         offset,
				Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
				WithPayload:    qdrant.NewWithPayloadInclude(keySourceRef),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			if isNotFound(err) {
				return nil, collectionNotFound(name)
			}
			return nil, s.classify(err, "listing documents failed")
		}
		for _, p := range page {
			refs = append(refs, p.GetPayload()[keySourceRef].GetStringValue())
		}
		if next == nil || len(page) == 0 {
			break
		}
		offset = next
	}

	sources = countSources(refs)
	span.SetAttributes(attribute.Int("source_count", len(sources)))
	return sources, nil
}

// Health pings the Qdrant server.
func (s *QdrantStore) Health(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Health")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// collectionDimension returns the vector size stored in the collection
// config, or ErrCollectionNotFound.
func (s *QdrantStore) collectionDimension(ctx context.Context, name string) (int, error) {
	if v, ok := s.dims.Load(name); ok {
		return v.(int), nil
	}

	var size uint64
	err := s.retryOperation(ctx, "collection_info", func() error {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return err
		}
		size = info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		return nil
	})
	if isNotFound(err) {
		return 0, ErrCollectionNotFound
	}
	if err != nil {
		return 0, err
	}
	s.dims.Store(name, int(size))
	return int(size), nil
}

func (s *QdrantStore) createCollection(ctx context.Context, name string, dim int) error {
	err := s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		// A concurrent writer may have created it first.
		if known, lookupErr := s.collectionDimension(ctx, name); lookupErr == nil {
			if known != dim {
				return dimensionMismatch(known, dim)
			}
			return nil
		}
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	s.dims.Store(name, dim)
	s.logger.Info("created qdrant collection",
		zap.String("collection", name),
		zap.Int("dimension", dim),
	)
	return nil
}

// retryOperation retries transient gRPC failures with bounded exponential
// backoff and trips the circuit breaker after repeated failures.
func (s *QdrantStore) retryOperation(ctx context.Context, operation string, op func() error) error {
	if s.isCircuitOpen() {
		return fmt.Errorf("%s: %w: circuit breaker open", operation, ErrConnectionFailed)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err == nil {
			s.resetCircuitBreaker()
			return struct{}{}, nil
		}
		if !IsTransientError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.recordFailure()
		if s.isCircuitOpen() {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: circuit breaker open: %v", ErrConnectionFailed, err))
		}
		s.logger.Debug("retrying qdrant operation",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.config.MaxRetries+1)))
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	if s.circuitBreaker.failures == s.config.CircuitBreakerThreshold {
		s.circuitBreaker.openedAt = time.Now()
		s.logger.Warn("qdrant circuit breaker opened",
			zap.Int("failures", s.circuitBreaker.failures),
			zap.Duration("cooldown", s.config.CircuitBreakerCooldown),
		)
	}
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures < s.config.CircuitBreakerThreshold {
		return false
	}
	if time.Since(s.circuitBreaker.openedAt) > s.config.CircuitBreakerCooldown {
		// Half-open: let the next call through.
		s.circuitBreaker.failures = 0
		return false
	}
	return true
}

// classify maps backend failures onto caller-facing kinds.
func (s *QdrantStore) classify(err error, msg string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, ErrConnectionFailed) || IsTransientError(err) {
		return apperr.Wrap(apperr.ProviderUnavailable, err, "vector store unavailable")
	}
	return apperr.Wrap(apperr.Internal, err, msg)
}

func sourceFilter(sourceRef string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchKeyword(keySourceRef, sourceRef),
		},
	}
}

// staleFilter matches the points of sourceRef not stamped keepIngestedAt.
func staleFilter(sourceRef string, keepIngestedAt int64) *qdrant.Filter {
	filter := sourceFilter(sourceRef)
	filter.MustNot = []*qdrant.Condition{qdrant.NewMatchInt(keyIngestedAt, keepIngestedAt)}
	return filter
}

func recordFromPayload(payload map[string]*qdrant.Value) Record {
	return Record{
		ID:            payload[keyRecordID].GetStringValue(),
		Text:          payload[keyText].GetStringValue(),
		SourceRef:     payload[keySourceRef].GetStringValue(),
		SequenceIndex: int(payload[keySequenceIndex].GetIntegerValue()),
		IngestedAt:    payload[keyIngestedAt].GetIntegerValue(),
	}
}

var _ Store = (*QdrantStore)(nil)
