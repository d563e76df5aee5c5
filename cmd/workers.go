/*
Copyright 2025 Silo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/silohq/silo"
	"github.com/silohq/silo/config"
	redis_db "github.com/silohq/silo/internal/redis-db"
	"github.com/silohq/silo/model"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.MigrationQueue] = 3
	queues[cfg.Queue.WebhookQueue] = 1
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      queues,
		},
	), nil
}

// initializeTaskHandlers routes migration stages to the pipeline and webhook
// events to the dispatcher's worker side. Webhook task types are event names
// ("<source>.<event>"), so each source registers as a prefix pattern.
func initializeTaskHandlers(s *siloInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(model.TaskInitiate, s.silo.Pipeline().ProcessMigrationTask)
	mux.HandleFunc(model.TaskTransform, s.silo.Pipeline().ProcessMigrationTask)
	mux.HandleFunc(model.TaskPush, s.silo.Pipeline().ProcessMigrationTask)

	for _, source := range []model.Source{model.SourceGithub, model.SourceGitlab, model.SourceJira, model.SourceAsana} {
		mux.HandleFunc(string(source)+".", s.silo.ProcessWebhookTask)
	}
}

// workerCommands defines the "workers" command to start worker processes
// consuming the migration and webhook queues.
func workerCommands(s *siloInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start silo workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(s, mux)

			// Sweep archived tasks back onto the queues in the background.
			recovery := silo.NewArchivedTaskRecoveryProcessor(s.silo.Queue(), conf)
			recovery.Start(ctx)
			defer recovery.Stop()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
