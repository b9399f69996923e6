package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/veriserve/veriserve/pkg/auth"
	"github.com/veriserve/veriserve/pkg/certification"
	"github.com/veriserve/veriserve/pkg/config"
	"github.com/veriserve/veriserve/pkg/observability"
	"github.com/veriserve/veriserve/pkg/storage"
)

// Service exposes the asset engine over HTTP.
type Service struct {
	Engine  *storage.Engine
	Tree    *certification.Tree
	Policy  *config.Storage
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Routes registers the API endpoints. protect wraps the mutating upload
// surface with the authorization middleware; pass the identity function
// to run open (development only).
func (s *Service) Routes(mux *http.ServeMux, protect func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/upload/init", protect(http.HandlerFunc(s.HandleInitUpload)))
	mux.Handle("POST /v1/upload/chunk", protect(http.HandlerFunc(s.HandleUploadChunk)))
	mux.Handle("POST /v1/upload/commit", protect(http.HandlerFunc(s.HandleCommit)))
	mux.Handle("DELETE /v1/asset", protect(http.HandlerFunc(s.HandleDeleteAsset)))
	mux.HandleFunc("GET /v1/asset", s.HandleGetAsset)
	mux.HandleFunc("GET /v1/assets", s.HandleListAssets)
	mux.HandleFunc("GET /v1/root", s.HandleRoot)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("/", s.HandleServe)
}

// InitUploadResponse carries the id of a freshly opened batch.
type InitUploadResponse struct {
	BatchID uint64 `json:"batch_id"`
}

// HandleInitUpload handles POST /v1/upload/init.
func (s *Service) HandleInitUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req storage.InitAssetKey
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	if principal, ok := auth.GetPrincipal(r.Context()); ok {
		if !principal.HasCollection(req.Collection) {
			WriteForbidden(w, "No grant for collection "+req.Collection)
			return
		}
		req.Owner = principal.Owner
	}

	batchID, err := s.Engine.InitUpload(req)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	writeJSON(w, InitUploadResponse{BatchID: batchID})
}

// UploadChunkRequest is one chunk of content. Content is base64 on the
// wire (encoding/json []byte convention).
type UploadChunkRequest struct {
	BatchID uint64  `json:"batch_id"`
	Content []byte  `json:"content"`
	OrderID *uint64 `json:"order_id,omitempty"`
}

// UploadChunkResponse carries the id assigned to a stored chunk.
type UploadChunkResponse struct {
	ChunkID uint64 `json:"chunk_id"`
}

// HandleUploadChunk handles POST /v1/upload/chunk.
func (s *Service) HandleUploadChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	var req UploadChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	chunkID, err := s.Engine.UploadChunk(req.BatchID, req.Content, req.OrderID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	writeJSON(w, UploadChunkResponse{ChunkID: chunkID})
}

// HandleCommit handles POST /v1/upload/commit.
func (s *Service) HandleCommit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req storage.CommitBatch
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}

	asset, err := s.Engine.Commit(r.Context(), req)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	s.Metrics.CommitRecorded(r.Context())

	writeJSON(w, asset)
}

// HandleGetAsset handles GET /v1/asset?path=/full/path.
func (s *Service) HandleGetAsset(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		WriteBadRequest(w, "Missing path parameter")
		return
	}

	asset, err := s.Engine.GetNoContent(path)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, asset)
}

// HandleListAssets handles GET /v1/assets?collection=name.
func (s *Service) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.Engine.List(r.URL.Query().Get("collection"))
	writeJSON(w, assets)
}

// HandleDeleteAsset handles DELETE /v1/asset?path=/full/path.
func (s *Service) HandleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		WriteBadRequest(w, "Missing path parameter")
		return
	}

	if principal, ok := auth.GetPrincipal(r.Context()); ok {
		asset, err := s.Engine.Get(path)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		if !principal.HasCollection(asset.Key.Collection) {
			WriteForbidden(w, "No grant for collection "+asset.Key.Collection)
			return
		}
	}

	if err := s.Engine.Delete(r.Context(), path); err != nil {
		WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RootResponse exposes the current certification root so clients can pin
// it out of band and verify witnesses against it.
type RootResponse struct {
	Root   string `json:"root"`
	Leaves int    `json:"leaves"`
}

// HandleRoot handles GET /v1/root.
func (s *Service) HandleRoot(w http.ResponseWriter, r *http.Request) {
	root := s.Tree.Root()
	writeJSON(w, RootResponse{
		Root:   hexDigest(root),
		Leaves: s.Tree.Len(),
	})
}

// HandleHealth handles GET /health.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
