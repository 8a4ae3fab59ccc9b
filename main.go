package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mattn/go-sqlite3"
	"github.com/mileusna/crontab"
	"github.com/sirupsen/logrus"
	"github.com/tdewolff/minify"
	minifyjson "github.com/tdewolff/minify/json"
	"github.com/urfave/negroni/v2"
	"go.etcd.io/bbolt"

	"fknsrs.biz/p/bilifm/handlers"
	"fknsrs.biz/p/bilifm/internal/biliapi"
	"fknsrs.biz/p/bilifm/internal/config"
	"fknsrs.biz/p/bilifm/internal/configreader"
	"fknsrs.biz/p/bilifm/internal/ctxclock"
	"fknsrs.biz/p/bilifm/internal/ctxconfig"
	"fknsrs.biz/p/bilifm/internal/ctxdb"
	"fknsrs.biz/p/bilifm/internal/ctxeventhub"
	"fknsrs.biz/p/bilifm/internal/ctxhttpclient"
	"fknsrs.biz/p/bilifm/internal/ctxjobqueue"
	"fknsrs.biz/p/bilifm/internal/ctxlogger"
	"fknsrs.biz/p/bilifm/internal/ctxplayer"
	"fknsrs.biz/p/bilifm/internal/ctxstore"
	"fknsrs.biz/p/bilifm/internal/ctxtimer"
	"fknsrs.biz/p/bilifm/internal/eventhub"
	"fknsrs.biz/p/bilifm/internal/ffmpeg"
	"fknsrs.biz/p/bilifm/internal/httpcache"
	"fknsrs.biz/p/bilifm/internal/jobqueue"
	"fknsrs.biz/p/bilifm/internal/logrusstackhook"
	"fknsrs.biz/p/bilifm/internal/mediaout"
	"fknsrs.biz/p/bilifm/internal/player"
	"fknsrs.biz/p/bilifm/internal/playerstate"
	"fknsrs.biz/p/bilifm/internal/ptr"
	"fknsrs.biz/p/bilifm/internal/queuenames"
	"fknsrs.biz/p/bilifm/internal/sqlitelogger"
	"fknsrs.biz/p/bilifm/internal/streamdl"
	"fknsrs.biz/p/bilifm/internal/streamresolve"
	"fknsrs.biz/p/bilifm/models"
	"fknsrs.biz/p/bilifm/store"
)

func init() {
	sorm.SetParameterPrefix("?")

	_ = godotenv.Load()
}

var cfg = config.Config{
	LogLevel:             logrus.InfoLevel,
	LogDebugLevels:       config.LevelList{logrus.DebugLevel, logrus.TraceLevel},
	LogQueries:           config.LogQueries{Enabled: true, SlowerThan: time.Millisecond * 100},
	LogSORM:              false,
	ApplicationAddr:      ":8080",
	ApplicationDatabase:  "database.db",
	ApplicationCachePath: "cache.db",
	ApplicationDataPath:  "data",
	ApplicationMinify:    true,
	BackgroundWorkers:    1,
	RefreshSchedule:      "0 3 * * *",
}

func init() {
	for _, configPath := range []string{"config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(configPath); err == nil && st != nil && !st.IsDir() {
			cfg.Config = configPath
		}
	}
}

type simpleQueryLogger struct {
	logger *logrus.Logger
}

func (s *simpleQueryLogger) LogQuery(query string, args []interface{}) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query start")
}

func (s *simpleQueryLogger) LogQueryAfter(query string, args []interface{}, duration time.Duration, err error) {
	fields := logrus.Fields{
		"db.query":      query,
		"db.duration":   duration,
		"db.error":      err,
		"db.args.count": len(args),
	}

	for i, e := range args {
		fields[fmt.Sprintf("db.args.%d", i)] = e
	}

	s.logger.WithFields(fields).Info("sorm query finish")
}

func main() {
	ctx := context.Background()

	if err := configreader.Read(os.Args[0], os.Args[1:], os.Environ(), &cfg); err != nil {
		panic(err)
	}

	ctx = ctxconfig.WithConfig(ctx, cfg)
	ctx = ctxclock.WithClock(ctx, ctxclock.NewRealClock())

	logger := logrus.New()

	logger.SetLevel(cfg.LogLevel)
	if len(cfg.LogDebugLevels) > 0 {
		logger.AddHook(logrusstackhook.NewStackHook(nil, cfg.LogDebugLevels, nil))
	}

	logger.WithFields(logrus.Fields{
		"config.config":                 cfg.Config,
		"config.log_level":              cfg.LogLevel,
		"config.log_debug_levels":       cfg.LogDebugLevels,
		"config.log_queries":            cfg.LogQueries,
		"config.log_sorm":               cfg.LogSORM,
		"config.application_addr":       cfg.ApplicationAddr,
		"config.application_cache_path": cfg.ApplicationCachePath,
		"config.application_database":   cfg.ApplicationDatabase,
		"config.application_data_path":  cfg.ApplicationDataPath,
		"config.application_minify":     cfg.ApplicationMinify,
		"config.background_workers":     cfg.BackgroundWorkers,
		"config.refresh_schedule":       cfg.RefreshSchedule,
	}).Info("program starting")

	if cfg.LogSORM {
		sorm.SetQueryLogger(&simpleQueryLogger{logger})
	}

	ctx = ctxlogger.WithLogger(ctx, logger)

	dbDriver := "sqlite3"

	if !cfg.LogQueries.IsZero() {
		dbDriver = "sqlite3:logged"

		sql.Register(dbDriver, sqlitelogger.New(
			dbDriver,
			&sqlite3.SQLiteDriver{},
			&sqlitelogger.BasicFilter{
				LogSlowerThan: cfg.LogQueries.SlowerThan,
				IgnorePackageStackFrames: []string{
					// standard library
					"database/sql",
					"net/http",
					"runtime",
					// libraries
					"github.com/gorilla/mux",
					"github.com/shogo82148/go-sql-proxy",
					"github.com/urfave/negroni/v2",
					// middleware
					"fknsrs.biz/p/bilifm/internal/ctxclock",
					"fknsrs.biz/p/bilifm/internal/ctxdb",
					"fknsrs.biz/p/bilifm/internal/ctxeventhub",
					"fknsrs.biz/p/bilifm/internal/ctxjobqueue",
					"fknsrs.biz/p/bilifm/internal/ctxlogger",
					"fknsrs.biz/p/bilifm/internal/ctxplayer",
					"fknsrs.biz/p/bilifm/internal/ctxstore",
					"fknsrs.biz/p/bilifm/internal/ctxtimer",
					"fknsrs.biz/p/bilifm/internal/sqlitelogger",
					// main
					"main",
				},
				IgnoreFunctionQueries: []string{
					"fknsrs.biz/p/bilifm/internal/jobqueue.(*Worker).Run",
				},
			},
		))
	}

	db, err := sql.Open(dbDriver, cfg.ApplicationDatabase)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	ctx = ctxdb.WithDB(ctx, db)

	st := store.New(db)
	if err := st.Initialize(ctx); err != nil {
		panic(err)
	}

	ctx = ctxstore.WithStore(ctx, st)

	cacheDB, err := bbolt.Open(cfg.ApplicationCachePath, 0600, nil)
	if err != nil {
		panic(err)
	}
	defer cacheDB.Close()

	ctx = ctxhttpclient.WithHTTPClient(ctx, &http.Client{
		Transport: httpcache.NewTransport(nil, httpcache.NewBBoltStorage(cacheDB), 0),
	})

	hub := eventhub.New()
	ctx = ctxeventhub.WithHub(ctx, hub)

	// stream URLs are short-lived, so stream resolution never goes through
	// the caching client
	engine, err := player.New(
		streamresolve.New(&http.Client{}),
		mediaout.New(hub),
		playerstate.New(cacheDB),
		player.WithOnChange(func(status player.Status) {
			hub.Publish(eventhub.TypePlayerStatus, status)
		}),
	)
	if err != nil {
		panic(err)
	}

	ctx = ctxplayer.WithEngine(ctx, engine)

	ctx = ctxjobqueue.WithWorker(ctx, jobqueue.NewWorker(nil))

	if err := registerJobQueueWorkerFunctions(ctx); err != nil {
		panic(err)
	}

	workers := []worker{
		{
			name: "application",
			run: func(ctx context.Context) error {
				return runApplicationWorker(ctx, cfg.ApplicationAddr)
			},
		},
	}

	for i := 0; i < cfg.BackgroundWorkers; i++ {
		workers = append(workers, worker{
			name: fmt.Sprintf("job_queue.%d", i),
			run: func(ctx context.Context) error {
				return runJobQueueWorker(ctx)
			},
		})
	}

	if cfg.RefreshSchedule != "" {
		workers = append(workers, worker{
			name: "scheduler",
			run: func(ctx context.Context) error {
				return runSchedulerWorker(ctx, cfg.RefreshSchedule)
			},
		})
	}

	if err := runAllWorkers(ctx, workers); err != nil {
		panic(err)
	}
}

type worker struct {
	name string
	run  func(ctx context.Context) error
}

func runAllWorkers(ctx context.Context, workers []worker) error {
	done := make(chan error, len(workers))
	cancellers := make([]context.CancelCauseFunc, len(workers))

	var rw sync.RWMutex

	for id, w := range workers {
		go func(id int, w worker) {
			for {
				l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
					"worker.id":   id + 1,
					"worker.name": w.name,
				})

				ctx, cancel := context.WithCancelCause(ctxlogger.WithLogger(ctx, l))

				rw.Lock()
				cancellers[id] = cancel
				rw.Unlock()

				if err := w.run(ctx); err != nil {
					l.WithError(err).Error("worker failed")

					rw.RLock()
					for _, fn := range cancellers {
						if fn == nil {
							continue
						}

						fn(fmt.Errorf("worker %d (%s) failed: %w", id+1, w.name, err))
					}
					rw.RUnlock()
				} else {
					l.Info("worker restarted")
				}

				time.Sleep(time.Second)
			}
		}(id, w)
	}

	var errs []error
	for err := range done {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func runApplicationWorker(ctx context.Context, addr string) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{
		"args.addr": addr,
	}).Info("running application worker")

	m := mux.NewRouter()

	m.Methods(http.MethodGet).Path("/api/songs").HandlerFunc(handlers.Songs)
	m.Methods(http.MethodPost).Path("/api/songs").HandlerFunc(handlers.SongsCollect)
	m.Methods(http.MethodGet).Path("/api/songs/audio-zip").HandlerFunc(handlers.SongsAudioZip)
	m.Methods(http.MethodGet).Path("/api/songs/{id}").HandlerFunc(handlers.Song)
	m.Methods(http.MethodDelete).Path("/api/songs/{id}").HandlerFunc(handlers.SongDelete)
	m.Methods(http.MethodGet).Path("/api/playlists").HandlerFunc(handlers.Playlists)
	m.Methods(http.MethodPost).Path("/api/playlists").HandlerFunc(handlers.PlaylistCreate)
	m.Methods(http.MethodGet).Path("/api/playlists/{id}").HandlerFunc(handlers.Playlist)
	m.Methods(http.MethodDelete).Path("/api/playlists/{id}").HandlerFunc(handlers.PlaylistDelete)
	m.Methods(http.MethodGet).Path("/api/playlists/{id}/audio-zip").HandlerFunc(handlers.PlaylistAudioZip)
	m.Methods(http.MethodPut).Path("/api/playlists/{id}/songs/{songID}").HandlerFunc(handlers.PlaylistAddSong)
	m.Methods(http.MethodDelete).Path("/api/playlists/{id}/songs/{songID}").HandlerFunc(handlers.PlaylistRemoveSong)
	m.Methods(http.MethodGet).Path("/api/authors").HandlerFunc(handlers.Authors)
	m.Methods(http.MethodGet).Path("/api/export").HandlerFunc(handlers.Export)
	m.Methods(http.MethodPost).Path("/api/import").HandlerFunc(handlers.Import)
	m.Methods(http.MethodGet).Path("/api/player").HandlerFunc(handlers.PlayerStatus)
	m.Methods(http.MethodPost).Path("/api/player/queue").HandlerFunc(handlers.PlayerQueue)
	m.Methods(http.MethodPost).Path("/api/player/play").HandlerFunc(handlers.PlayerPlay)
	m.Methods(http.MethodPost).Path("/api/player/pause").HandlerFunc(handlers.PlayerPause)
	m.Methods(http.MethodPost).Path("/api/player/resume").HandlerFunc(handlers.PlayerResume)
	m.Methods(http.MethodPost).Path("/api/player/stop").HandlerFunc(handlers.PlayerStop)
	m.Methods(http.MethodPost).Path("/api/player/next").HandlerFunc(handlers.PlayerNext)
	m.Methods(http.MethodPost).Path("/api/player/prev").HandlerFunc(handlers.PlayerPrev)
	m.Methods(http.MethodPost).Path("/api/player/seek").HandlerFunc(handlers.PlayerSeek)
	m.Methods(http.MethodPost).Path("/api/player/mode").HandlerFunc(handlers.PlayerMode)
	m.Methods(http.MethodPost).Path("/api/player/rate").HandlerFunc(handlers.PlayerRate)
	m.Methods(http.MethodPost).Path("/api/player/volume").HandlerFunc(handlers.PlayerVolume)
	m.Methods(http.MethodPost).Path("/api/player/muted").HandlerFunc(handlers.PlayerMuted)
	m.Methods(http.MethodPost).Path("/api/player/media-event").HandlerFunc(handlers.PlayerMediaEvent)
	m.Methods(http.MethodGet).Path("/api/jobs").HandlerFunc(handlers.Jobs)
	m.Methods(http.MethodGet).Path("/api/jobs/updates").HandlerFunc(handlers.JobsSSE)
	m.Methods(http.MethodGet).Path("/api/events").HandlerFunc(handlers.Events)

	m.Methods(http.MethodGet).PathPrefix("/data/").Handler(http.StripPrefix("/data/", http.FileServer(http.Dir(ctxconfig.GetConfig(ctx).ApplicationDataPath))))

	min := minify.New()
	min.AddFunc("application/json", minifyjson.Minify)

	n := negroni.New()
	n.Use(negroni.NewRecovery())
	n.UseFunc(ctxlogger.Register(l))
	n.UseFunc(ctxtimer.Register(nil))
	n.UseFunc(ctxclock.Register(ctxclock.GetClock(ctx)))
	n.UseFunc(ctxdb.Register(ctxdb.GetDB(ctx)))
	n.UseFunc(ctxjobqueue.Register(ctxjobqueue.GetWorker(ctx)))
	n.UseFunc(ctxhttpclient.Register(ctxhttpclient.GetHTTPClient(ctx)))
	n.UseFunc(ctxstore.Register(ctxstore.GetStore(ctx)))
	n.UseFunc(ctxplayer.Register(ctxplayer.GetEngine(ctx)))
	n.UseFunc(ctxeventhub.Register(ctxeventhub.GetHub(ctx)))
	n.UseFunc(ctxtimer.AddLoggerHooks())
	n.UseFunc(ctxclock.AddLoggerHooks())
	n.UseFunc(ctxlogger.Log())

	if cfg.ApplicationMinify {
		n.UseFunc(func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
			if strings.ToLower(r.Header.Get("connection")) != "upgrade" && r.Header.Get("accept") != "text/event-stream" {
				mw := min.ResponseWriter(rw, r)
				defer mw.Close()
				rw = mw
			}

			next(rw, r)
		})
	}

	n.UseHandler(m)

	s := &http.Server{
		Addr:        addr,
		Handler:     n,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}

	errs := make(chan error, 1)
	go func() {
		l.Info("starting server")
		errs <- s.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return s.Shutdown(ctx)
	}
}

func registerJobQueueWorkerFunctions(ctx context.Context) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{}).Info("registering job queue worker functions")

	w := ctxjobqueue.GetWorker(ctx)
	if w == nil {
		return fmt.Errorf("job queue worker not available in context")
	}

	st := ctxstore.GetStore(ctx)
	if st == nil {
		return fmt.Errorf("store not available in context")
	}

	return w.RegisterAll(map[string]jobqueue.WorkerFunction{
		queuenames.SongCollect: func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
			sourceID, params, err := jobqueue.ParsePayload(j.Payload)
			if err != nil {
				return "", err
			}

			page := 1
			if s := params.Get("page"); s != "" {
				n, err := strconv.Atoi(s)
				if err != nil {
					return "", fmt.Errorf("invalid page %q: %w", s, err)
				}
				page = n
			}

			view, err := biliapi.GetView(ctx, sourceID)
			if err != nil {
				return "", err
			}

			pageInfo, err := view.PageInfo(page)
			if err != nil {
				return "", err
			}

			exists, existingID, err := st.SongExists(ctx, sourceID, page)
			if err != nil {
				return "", err
			}

			if exists {
				if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
					return ctxjobqueue.Add(ctx, tx, &jobqueue.Job{
						QueueName: queuenames.SongRefreshMetadata,
						Payload:   strconv.Itoa(existingID),
					})
				}); err != nil {
					return "", err
				}

				return fmt.Sprintf("already collected as song %d", existingID), nil
			}

			song := models.Song{
				CreatedAt:           time.Now(),
				SourceID:            sourceID,
				Page:                page,
				ContentID:           int(pageInfo.ContentID),
				MediaAssetID:        int(view.MediaAssetID),
				Title:               pageInfo.Title,
				Description:         view.Description,
				CoverURL:            view.CoverURL,
				Duration:            pageInfo.Duration,
				AuthorName:          view.AuthorName,
				AuthorSourceID:      int(view.AuthorSourceID),
				AuthorAvatarURL:     view.AuthorAvatarURL,
				MetadataRefreshedAt: ptr.Time(time.Now()),
			}

			if len(view.Pages) > 1 {
				song.Title = view.Title + " - " + pageInfo.Title
			}

			if err := st.CreateSong(ctx, &song); err != nil {
				return "", err
			}

			if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
				return ctxjobqueue.Add(ctx, tx, &jobqueue.Job{
					QueueName: queuenames.SongDownloadAudio,
					Payload:   strconv.Itoa(song.ID),
				})
			}); err != nil {
				return "", err
			}

			ctxeventhub.Publish(ctx, eventhub.TypeSongUpdate, song)

			return fmt.Sprintf("collected song %d", song.ID), nil
		},
		queuenames.SongRefreshMetadata: func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
			idString, _, err := jobqueue.ParsePayload(j.Payload)
			if err != nil {
				return "", err
			}

			id, err := strconv.Atoi(idString)
			if err != nil {
				return "", err
			}

			song, err := st.GetSong(ctx, id)
			if err != nil {
				return "", err
			}

			view, err := biliapi.GetView(ctx, song.SourceID)
			if err != nil {
				return "", err
			}

			pageInfo, err := view.PageInfo(song.Page)
			if err != nil {
				return "", err
			}

			song.ContentID = int(pageInfo.ContentID)
			song.MediaAssetID = int(view.MediaAssetID)
			song.Title = pageInfo.Title
			if len(view.Pages) > 1 {
				song.Title = view.Title + " - " + pageInfo.Title
			}
			song.Description = view.Description
			song.CoverURL = view.CoverURL
			song.Duration = pageInfo.Duration
			song.AuthorName = view.AuthorName
			song.AuthorSourceID = int(view.AuthorSourceID)
			song.AuthorAvatarURL = view.AuthorAvatarURL
			song.MetadataRefreshedAt = ptr.Time(time.Now())

			if err := st.SaveSong(ctx, song); err != nil {
				return "", err
			}

			ctxeventhub.Publish(ctx, eventhub.TypeSongUpdate, song)

			return "", nil
		},
		queuenames.SongDownloadAudio: func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
			idString, _, err := jobqueue.ParsePayload(j.Payload)
			if err != nil {
				return "", err
			}

			id, err := strconv.Atoi(idString)
			if err != nil {
				return "", err
			}

			song, err := st.GetSong(ctx, id)
			if err != nil {
				return "", err
			}

			outputFile := cfg.DataFile("audio", song.AudioFileName(".m4a"))

			if _, err := os.Stat(outputFile); err != nil {
				if err := os.MkdirAll(cfg.DataFile("audio", ""), 0755); err != nil {
					return "", err
				}

				if err := streamdl.DownloadAudio(ctx, song.SourceID, song.Page, outputFile); err != nil {
					return "", err
				}
			}

			song.AudioDownloadedAt = ptr.Time(time.Now())

			if err := st.SaveSong(ctx, song); err != nil {
				return "", err
			}

			if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
				return ctxjobqueue.Add(ctx, tx, &jobqueue.Job{
					QueueName: queuenames.SongConvertAudio,
					Payload:   strconv.Itoa(song.ID),
				})
			}); err != nil {
				return "", err
			}

			ctxeventhub.Publish(ctx, eventhub.TypeSongUpdate, song)

			return "", nil
		},
		queuenames.SongConvertAudio: func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
			idString, _, err := jobqueue.ParsePayload(j.Payload)
			if err != nil {
				return "", err
			}

			id, err := strconv.Atoi(idString)
			if err != nil {
				return "", err
			}

			song, err := st.GetSong(ctx, id)
			if err != nil {
				return "", err
			}

			if song.AudioDownloadedAt == nil {
				return "", fmt.Errorf("audio has not been downloaded")
			}

			var output string

			if _, err := os.Stat(cfg.DataFile("audio", song.AudioFileName(".mp3"))); err != nil {
				progressCallback := func(progress int) {
					if err := w.UpdateProgress(ctx, j, progress); err != nil {
						ctxlogger.GetLogger(ctx).WithError(err).Warn("failed to update progress")
					}
				}

				s, err := ffmpeg.ConvertToMP3WithProgress(ctx, cfg.DataFile("audio", song.AudioFileName(".m4a")), cfg.DataFile("audio", song.AudioFileName(".mp3")), progressCallback)
				if err != nil {
					return s, err
				}

				output = s
			}

			song.AudioConvertedAt = ptr.Time(time.Now())

			if err := st.SaveSong(ctx, song); err != nil {
				return output, err
			}

			ctxeventhub.Publish(ctx, eventhub.TypeSongUpdate, song)

			return output, nil
		},
	})
}

func runJobQueueWorker(ctx context.Context) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{}).Info("running job queue worker")

	w := ctxjobqueue.GetWorker(ctx)
	if w == nil {
		return fmt.Errorf("job queue worker not available in context")
	}

	return w.Run(ctx)
}

func runSchedulerWorker(ctx context.Context, schedule string) error {
	l := ctxlogger.GetLogger(ctx)

	l.WithFields(logrus.Fields{
		"args.schedule": schedule,
	}).Info("running scheduler worker")

	st := ctxstore.GetStore(ctx)

	tab := crontab.New()
	defer tab.Shutdown()

	if err := tab.AddJob(schedule, func() {
		songs, err := st.ListSongs(ctx)
		if err != nil {
			l.WithError(err).Error("scheduled refresh could not list songs")
			return
		}

		if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
			for _, song := range songs {
				if err := ctxjobqueue.Add(ctx, tx, &jobqueue.Job{
					QueueName: queuenames.SongRefreshMetadata,
					Payload:   strconv.Itoa(song.ID),
				}); err != nil {
					return err
				}
			}

			return nil
		}); err != nil {
			l.WithError(err).Error("scheduled refresh could not enqueue jobs")
			return
		}

		l.WithFields(logrus.Fields{
			"refresh.count": len(songs),
		}).Info("scheduled metadata refresh enqueued")
	}); err != nil {
		return fmt.Errorf("runSchedulerWorker: %w", err)
	}

	<-ctx.Done()

	return context.Cause(ctx)
}
