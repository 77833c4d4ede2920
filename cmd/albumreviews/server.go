package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"albumreviews/internal/app/albums"
	"albumreviews/internal/app/reviews"
	"albumreviews/internal/app/users"
	"albumreviews/internal/auth"
	"albumreviews/internal/config"
	"albumreviews/internal/covers"
	"albumreviews/internal/http/middleware"
	"albumreviews/internal/httpapi"
	"albumreviews/internal/search"
	"albumreviews/internal/store"
)

func newHTTPHandler(cfg *config.Config, db *sql.DB, dataStore *store.Store, coverStore covers.Store) http.Handler {
	tokens := auth.NewTokenManager(cfg.Security.JWTSecret, cfg.Security.TokenTTL)

	userSvc := users.New(dataStore, tokens)
	albumSvc := albums.New(dataStore)
	reviewSvc := reviews.New(dataStore)

	api := httpapi.New(userSvc, albumSvc, reviewSvc, coverStore, cfg.Uploads.MaxBytes).Routes()
	api.Handle("/api/search", search.NewHandler(search.NewPGStore(db))).Methods(http.MethodGet)

	var handler http.Handler = api
	handler = middleware.CORS(cfg.CORS.AllowedOrigins)(handler)
	handler = middleware.RequestLogging()(handler)
	handler = middleware.Recovery()(handler)
	return handler
}

// newCoverStore opens the configured cover backend. The returned func
// releases it.
func newCoverStore(ctx context.Context, cfg config.UploadConfig) (covers.Store, func(), error) {
	switch cfg.Storage {
	case config.CoverStorageGridFS:
		client, err := covers.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return covers.NewGridFSStore(client, cfg.MongoDB), closeFn, nil
	case config.CoverStorageDisk:
		disk, err := covers.NewDiskStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return disk, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cover storage %q", cfg.Storage)
	}
}
