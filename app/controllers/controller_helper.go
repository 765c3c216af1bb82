package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIP returns the address of the caller for rate limiting, looking
// through Cloudflare and proxy headers first. IPv4 is preferred when the
// chain carries both families.
func ClientIP(c *fiber.Ctx) string {
	ipv4, ipv6 := splitClientIPs(c)
	if ipv4 != "" {
		return ipv4
	}
	if ipv6 != "" {
		return ipv6
	}
	return c.IP()
}

func splitClientIPs(c *fiber.Ctx) (string, string) {
	if cf := strings.TrimSpace(c.Get("CF-Connecting-IP")); cf != "" {
		ipv4, ipv6 := "", ""
		assignIP(cf, &ipv4, &ipv6)
		for _, ip := range forwardedFor(c) {
			assignIP(ip, &ipv4, &ipv6)
		}
		return ipv4, ipv6
	}

	// first entry of X-Forwarded-For is the original client
	if chain := forwardedFor(c); len(chain) > 0 {
		ipv4, ipv6 := "", ""
		for _, ip := range chain {
			assignIP(ip, &ipv4, &ipv6)
		}
		return ipv4, ipv6
	}

	ipv4, ipv6 := "", ""
	addr := c.IP()
	if strings.HasPrefix(addr, "::ffff:") && strings.Contains(addr, ".") {
		addr = strings.TrimPrefix(addr, "::ffff:")
	}
	assignIP(addr, &ipv4, &ipv6)
	if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
		assignIP(realIP, &ipv4, &ipv6)
	}
	return ipv4, ipv6
}

func forwardedFor(c *fiber.Ctx) []string {
	xff := c.Get("X-Forwarded-For")
	if xff == "" {
		return nil
	}
	var out []string
	for _, ip := range strings.Split(xff, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			out = append(out, ip)
		}
	}
	return out
}

// assignIP fills the matching family slot if it is still empty.
func assignIP(ip string, ipv4, ipv6 *string) {
	if strings.Contains(ip, ":") {
		if *ipv6 == "" {
			*ipv6 = ip
		}
		return
	}
	if *ipv4 == "" {
		*ipv4 = ip
	}
}
