package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	localClientAddress = "clientAddress"
	unknownAddress     = "unknown"
)

// ClientAddress records the caller's network address. With trustProxyHeaders the first
// X-Forwarded-For entry wins, then CF-Connecting-IP, then the socket address.
func ClientAddress(trustProxyHeaders bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(localClientAddress, resolveClientAddress(c, trustProxyHeaders))
		return c.Next()
	}
}

// ClientAddressOf returns the address recorded by ClientAddress.
func ClientAddressOf(c *fiber.Ctx) string {
	if addr, ok := c.Locals(localClientAddress).(string); ok && addr != "" {
		return addr
	}
	return unknownAddress
}

func resolveClientAddress(c *fiber.Ctx, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
		if cf := strings.TrimSpace(c.Get("CF-Connecting-IP")); cf != "" {
			return cf
		}
	}
	if ip := c.IP(); ip != "" {
		return ip
	}
	return unknownAddress
}
