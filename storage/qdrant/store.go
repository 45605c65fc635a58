// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.



// Package qdrant implements storage.ChunkStore on a Qdrant collection.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/storage"
	"github.com/qdrant/go-client/qdrant"
)

const (
	defaultGRPCPort = 6334
	restPort        = 6333
)

// client is the subset of *qdrant.Client the store uses.
type client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Close() error
}

var _ client = (*qdrant.Client)(nil)

// Config describes how to reach a collection.
type Config struct {
	// Endpoint is the cluster URL, e.g. https://xyz.cloud.qdrant.io:6333.
	// An https scheme enables TLS. The REST port 6333 is mapped to the
	// gRPC port 6334.
	Endpoint   string
	APIKey     string
	Collection string
	VectorSize int
}

// Store implements storage.ChunkStore backed by Qdrant.
type Store struct {
	client     client
	collection string
	vectorSize int
	logger     *slog.Logger
}

var _ storage.ChunkStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// withClient replaces the gRPC client, for tests.
func withClient(c client) Option {
	return func(s *Store) {
		s.client = c
	}
}

// Open connects to Qdrant and creates the collection with cosine distance if
// it does not exist yet.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection name is required", core.ErrConfiguration)
	}
	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: qdrant vector size must be positive", core.ErrConfiguration)
	}

	s := &Store{
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "qdrant", "collection", cfg.Collection)

	if s.client == nil {
		host, port, useTLS, err := parseEndpoint(cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		c, err := qdrant.NewClient(&qdrant.Config{
			Host:   host,
			Port:   port,
			APIKey: cfg.APIKey,
			UseTLS: useTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant at %s: %w", cfg.Endpoint, err)
		}
		s.client = c
	}

	if err := s.ensureCollection(ctx); err != nil {
		s.client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		s.logger.Debug("using existing collection")
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	s.logger.Info("created collection", "vector_size", s.vectorSize)
	return nil
}

// Put stores a single chunk and returns its generated ID.
func (s *Store) Put(ctx context.Context, chunk *core.EmbeddedChunk) (core.ID, error) {
	ids, err := s.PutBatch(ctx, []*core.EmbeddedChunk{chunk})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PutBatch upserts chunks as points with random UUIDs and waits for the
// write to apply.
func (s *Store) PutBatch(ctx context.Context, chunks []*core.EmbeddedChunk) ([]core.ID, error) {
	ids := make([]core.ID, len(chunks))
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		if len(chunk.Vector) != s.vectorSize {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, collection expects %d",
				storage.ErrDimensionMismatch, i, len(chunk.Vector), s.vectorSize)
		}
		payload, err := qdrant.TryValueMap(storage.ChunkPayload(chunk))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		ids[i] = core.NewID()
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(string(ids[i])),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("upserting %d points: %w", len(points), err)
	}

	s.logger.Debug("stored chunks", "count", len(points))
	return ids, nil
}

// Search queries the collection by cosine similarity.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]*core.SearchResult, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}
	if len(vector) != s.vectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection expects %d",
			storage.ErrDimensionMismatch, len(vector), s.vectorSize)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		ScoreThreshold: qdrant.PtrOf(threshold),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	results := make([]*core.SearchResult, 0, len(points))
	for _, point := range points {
		chunk, err := storage.ChunkFromPayload(payloadToMap(point.GetPayload()))
		if err != nil {
			return nil, err
		}
		results = append(results, &core.SearchResult{
			ID:    pointID(point.GetId()),
			Score: point.GetScore(),
			Chunk: chunk,
		})
	}
	return results, nil
}

// Info reports the collection's point count and vector parameters.
func (s *Store) Info(ctx context.Context) (*core.CollectionInfo, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("getting collection info: %w", err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return &core.CollectionInfo{
		Name:        s.collection,
		PointsCount: info.GetPointsCount(),
		VectorSize:  int(params.GetSize()),
		Distance:    params.GetDistance().String(),
	}, nil
}

// Count returns the exact number of points in the collection.
func (s *Store) Count(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return count, nil
}

// DeleteCollection drops the collection.
func (s *Store) DeleteCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	s.logger.Info("deleted collection")
	return nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// parseEndpoint splits a cluster URL into gRPC connection settings.
func parseEndpoint(endpoint string) (host string, port int, useTLS bool, err error) {
	if endpoint == "" {
		return "", 0, false, fmt.Errorf("%w: qdrant endpoint is required", core.ErrConfiguration)
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("%w: invalid qdrant endpoint %q", core.ErrConfiguration, endpoint)
	}

	port = defaultGRPCPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("%w: invalid qdrant port %q", core.ErrConfiguration, p)
		}
		if port == restPort {
			port = defaultGRPCPort
		}
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

func pointID(id *qdrant.PointId) core.ID {
	if uuid := id.GetUuid(); uuid != "" {
		return core.ID(uuid)
	}
	return core.ID(strconv.FormatUint(id.GetNum(), 10))
}

// payloadToMap converts qdrant values back to plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = valueToAny(value)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = valueToAny(item)
		}
		return list
	}
	return nil
}
