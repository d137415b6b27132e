package cache

import "fmt"

func ResolveKey(gatewayKey string) string {
	return fmt.Sprintf("resolve:%s", gatewayKey)
}

func RateLimitKey(ownerID string) string {
	return fmt.Sprintf("ratelimit:%s", ownerID)
}
