package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fleetgate/fleetgate/config"
)

type MetricProvider interface {
	MetricRendererHandler() (string, map[string]uint64)
}

/*
Server provides an HTTP endpoint for the http input plugin of Telegraf
https://github.com/influxdata/telegraf/tree/master/plugins/inputs/http
*/
type Server struct {
	ctx       context.Context
	wg        *sync.WaitGroup
	host      string
	port      int
	renderers []MetricProvider
	tags      []string
	mux       *http.ServeMux
}

func NewServer(ctx context.Context, wg *sync.WaitGroup, cfg *config.MetricsConfig, tags []string, renderers []MetricProvider) *Server {
	s := &Server{
		wg:        wg,
		host:      cfg.Host,
		port:      cfg.Port,
		ctx:       ctx,
		renderers: renderers,
		tags:      tags,
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("/metrics", s.metricsHandler)

	return s
}

// Handle mounts an additional operator route next to /metrics. Must be
// called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

func (s *Server) metricsHandler(w http.ResponseWriter, req *http.Request) {
	for _, renderer := range s.renderers {
		metricName, fieldsMap := renderer.MetricRendererHandler()

		// Render the fields part of the influx line protocol with sorted
		// keys so consecutive scrapes are comparable by eye.
		keys := make([]string, 0)
		for k := range fieldsMap {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var fieldsArray []string
		for _, k := range keys {
			fieldsArray = append(fieldsArray, fmt.Sprintf("%s=%d", k, fieldsMap[k]))
		}

		tags := strings.Join(s.tags, ",")
		fields := strings.Join(fieldsArray, ",")
		timestamp := time.Now().UnixNano()
		rawMetrics := fmt.Sprintf("%s,%s %s %d\n", metricName, tags, fields, timestamp)

		fmt.Fprint(w, rawMetrics)
	}
}

func (s *Server) Start() {
	log := config.GetLogger(s.ctx)

	url := fmt.Sprintf("%s:%d", s.host, s.port)

	log.Infof("Start metrics server on %s", url)

	httpServer := &http.Server{
		Addr:              url,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second, // Potential Slowloris Attack if not set
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("Error in metric server. %v", err)
		}
	}()

	<-s.ctx.Done()
	err := httpServer.Shutdown(context.Background())
	if err != nil {
		log.Errorf("Failed to stop http server. %v", err)
	}
}
