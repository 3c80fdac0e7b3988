package chat

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownRoute = errors.New("unknown route")

// Route names the stage the router hands a turn to.
type Route string

const (
	RouteConsult      Route = "consult"
	RouteMusicRequest Route = "generate_music"
	// RouteFinish can be returned by a classifier but is never acted on.
	RouteFinish Route = "FINISH"
)

// Routes lists every label a classifier may answer with.
func Routes() []Route {
	return []Route{RouteConsult, RouteMusicRequest, RouteFinish}
}

// ParseRoute maps loose classifier output onto a Route.
func ParseRoute(raw string) (Route, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.Trim(normalized, `"'.`)
	switch normalized {
	case "consult":
		return RouteConsult, nil
	case "generate_music", "music_request", "musicrequest", "generate-music", "music":
		return RouteMusicRequest, nil
	case "finish", "__end__", "end":
		return RouteFinish, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownRoute, raw)
	}
}
