package ratelimit

import (
	"strconv"
	"strings"
)

const (
	identifyPrefix = "identify:"
	routePrefix    = "route:"
)

// GlobalKey is the bucket shared by every REST route.
const GlobalKey = "global"

// IdentifyKey returns the identify bucket of a shard. Shards whose ids are
// equal modulo maxConcurrency share a bucket; every session using the same
// token must use the same Limiter.
func IdentifyKey(shardID, maxConcurrency int) string {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return identifyPrefix + strconv.Itoa(shardID%maxConcurrency)
}

// majorParams are path segments whose id belongs to the bucket.
var majorParams = map[string]bool{
	"channels": true,
	"guilds":   true,
	"webhooks": true,
}

// RouteKey returns the bucket of a REST call. Ids following a major parameter
// are kept; every other numeric id is templated, so /channels/1/messages/2
// and /channels/1/messages/3 share a bucket.
func RouteKey(method, path string) string {
	path = strings.SplitN(path, "?", 2)[0]
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if !isID(seg) {
			continue
		}
		if i > 0 && majorParams[segments[i-1]] {
			continue
		}
		segments[i] = "{id}"
	}
	return routePrefix + strings.ToUpper(method) + " /" + strings.Join(segments, "/")
}

func isID(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
