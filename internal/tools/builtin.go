package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yavinfive/eddie/internal/fetch"
	"github.com/yavinfive/eddie/internal/geo"
	"github.com/yavinfive/eddie/internal/search"
	"github.com/yavinfive/eddie/internal/task"
)

// TaskManager is the slice of the scheduler the task capabilities use.
type TaskManager interface {
	Start(cfg task.Config) (string, error)
	Stop(jobID string) error
	List(userID string) []task.Info
}

// Deps are the collaborators the builtin capabilities bind to. Nil
// fields skip the corresponding registrations.
type Deps struct {
	Search *search.Manager
	Fetch  *fetch.Fetcher
	Geo    *geo.Client
	Tasks  TaskManager
}

// RegisterBuiltins wires the standard capability set into reg.
func RegisterBuiltins(reg *Registry, deps Deps) {
	if deps.Search != nil {
		registerSearch(reg, deps.Search)
	}
	if deps.Fetch != nil {
		registerFetch(reg, deps.Fetch)
	}
	if deps.Geo != nil {
		registerGeo(reg, deps.Geo)
	}
	if deps.Tasks != nil {
		registerTasks(reg, deps.Tasks)
	}
}

func registerSearch(reg *Registry, mgr *search.Manager) {
	reg.Register(&Tool{
		Name:        "web_search",
		Description: "Search the web and return the top results as JSON.",
		Parameters: []Parameter{
			{Name: "query", Description: "what to search for", Required: true},
		},
		PrimaryArg: "query",
		Hints:      []string{"web", "search"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			if len(args) == 0 || args[0] == "" {
				return "", errors.New("web_search requires a query")
			}
			return mgr.SearchJSON(ctx, strings.Join(args, " "), search.Options{Count: 5})
		},
	})
}

func registerFetch(reg *Registry, f *fetch.Fetcher) {
	reg.Register(&Tool{
		Name:        "http_get",
		Description: "Fetch a URL and return its readable text content. Extra arguments of the form name=value are appended as query parameters.",
		Parameters: []Parameter{
			{Name: "url", Description: "the address to fetch", Required: true},
			{Name: "params", Description: "optional name=value query parameters"},
		},
		PrimaryArg: "url",
		Hints:      []string{"http", "get"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			if len(args) == 0 || args[0] == "" {
				return "", errors.New("http_get requires a url")
			}
			res, err := f.Get(ctx, args[0], args[1:]...)
			if err != nil {
				return "", err
			}
			if res.Title != "" {
				return res.Title + "\n\n" + res.Content, nil
			}
			return res.Content, nil
		},
	})
}

func registerGeo(reg *Registry, g *geo.Client) {
	reg.Register(&Tool{
		Name:        "city_to_lat_lon",
		Description: "Look up the latitude and longitude of a city.",
		Parameters: []Parameter{
			{Name: "city", Description: "city name", Required: true},
		},
		PrimaryArg: "city",
		Hints:      []string{"lat", "lon"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			if len(args) == 0 || args[0] == "" {
				return "", errors.New("city_to_lat_lon requires a city")
			}
			lat, lon, err := g.CityToLatLon(ctx, strings.Join(args, " "))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s, %s", lat, lon), nil
		},
	})
	reg.Register(&Tool{
		Name:        "lat_lon_to_city",
		Description: "Look up the place name at a latitude and longitude.",
		Parameters: []Parameter{
			{Name: "lat", Description: "latitude", Required: true},
			{Name: "lon", Description: "longitude", Required: true},
		},
		PrimaryArg: "lat",
		Hints:      []string{"city", "from", "coordinates"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			lat, lon, err := latLonArgs(args)
			if err != nil {
				return "", err
			}
			return g.LatLonToCity(ctx, lat, lon)
		},
	})
	reg.Register(&Tool{
		Name:        "lat_lon_to_weather",
		Description: "Get the current weather at a latitude and longitude.",
		Parameters: []Parameter{
			{Name: "lat", Description: "latitude", Required: true},
			{Name: "lon", Description: "longitude", Required: true},
		},
		PrimaryArg: "lat",
		Hints:      []string{"weather", "coordinates"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			lat, lon, err := latLonArgs(args)
			if err != nil {
				return "", err
			}
			return g.LatLonToWeather(ctx, lat, lon)
		},
	})
	reg.Register(&Tool{
		Name:        "city_to_weather",
		Description: "Get the current weather in a city.",
		Parameters: []Parameter{
			{Name: "city", Description: "city name", Required: true},
		},
		PrimaryArg: "city",
		Hints:      []string{"weather"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			if len(args) == 0 || args[0] == "" {
				return "", errors.New("city_to_weather requires a city")
			}
			return g.CityToWeather(ctx, strings.Join(args, " "))
		},
	})
}

// latLonArgs accepts either two positional arguments or a single
// "lat,lon" argument, which sloppy emitters produce often.
func latLonArgs(args []string) (string, string, error) {
	switch len(args) {
	case 1:
		lat, lon, ok := strings.Cut(args[0], ",")
		if !ok {
			return "", "", errors.New("expected latitude and longitude")
		}
		return strings.TrimSpace(lat), strings.TrimSpace(lon), nil
	case 2:
		return strings.TrimSpace(args[0]), strings.TrimSpace(args[1]), nil
	default:
		return "", "", errors.New("expected latitude and longitude")
	}
}

func registerTasks(reg *Registry, mgr TaskManager) {
	reg.Register(&Tool{
		Name:        "start_background_task",
		Description: "Start a recurring background task that asks the model a prompt at a fixed interval for a limited time. Durations accept forms like 90s, 10m, 2h.",
		Parameters: []Parameter{
			{Name: "prompt", Description: "what to ask on each run", Required: true},
			{Name: "title", Description: "short unique title", Required: true},
			{Name: "duration", Description: "how long the task lives", Required: true},
			{Name: "interval", Description: "time between runs", Required: true},
		},
		PrimaryArg: "prompt",
		Hints:      []string{"start", "task"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			if len(args) < 4 {
				return "", errors.New("start_background_task requires prompt, title, duration, and interval")
			}
			caller, ok := CallerFromContext(ctx)
			if !ok {
				return "", errors.New("no caller identity for task creation")
			}
			duration, err := parseSpan(args[2])
			if err != nil {
				return "", fmt.Errorf("bad duration %q: %w", args[2], err)
			}
			interval, err := parseSpan(args[3])
			if err != nil {
				return "", fmt.Errorf("bad interval %q: %w", args[3], err)
			}
			jobID, err := mgr.Start(task.Config{
				UserID:         caller.UserID,
				ConversationID: caller.ConversationID,
				Prompt:         args[0],
				Title:          args[1],
				Duration:       duration,
				Interval:       interval,
			})
			if err != nil {
				var verr *task.ValidationError
				if errors.As(err, &verr) {
					return "Task not started: " + verr.Detail, nil
				}
				return "", err
			}
			return fmt.Sprintf("Started background task %q with id %s.", args[1], jobID), nil
		},
	})
	reg.Register(&Tool{
		Name:        "list_background_tasks",
		Description: "List your active background tasks.",
		Hints:       []string{"list", "tasks"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			caller, _ := CallerFromContext(ctx)
			jobs := mgr.List(caller.UserID)
			if len(jobs) == 0 {
				return "No background tasks are running.", nil
			}
			var b strings.Builder
			for _, j := range jobs {
				fmt.Fprintf(&b, "%s  %q  started %s\n",
					j.JobID, j.Title, j.StartedAt.Format(time.RFC3339))
			}
			return b.String(), nil
		},
	})
	reg.Register(&Tool{
		Name:        "stop_background_task",
		Description: "Stop a background task by its id.",
		Parameters: []Parameter{
			{Name: "job_id", Description: "the task id to stop", Required: true},
		},
		PrimaryArg: "job_id",
		Hints:      []string{"stop", "task"},
		Handler: func(ctx context.Context, args ...string) (string, error) {
			if len(args) == 0 || args[0] == "" {
				return "", errors.New("stop_background_task requires a job id")
			}
			if err := mgr.Stop(strings.TrimSpace(args[0])); err != nil {
				return err.Error(), nil
			}
			return "Task stopped.", nil
		},
	})
}

// parseSpan reads a duration either as a Go duration string or as a
// bare integer count of milliseconds.
func parseSpan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}
