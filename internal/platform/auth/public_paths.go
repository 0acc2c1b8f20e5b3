package auth

// publicPaths are the infrastructure endpoints that load balancers and
// monitoring probes must reach without credentials.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
	"/metrics":      true,
}

// IsPublicPath reports whether path bypasses authentication and request
// logging.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
