package banner

import (
	"fmt"

	"chatcoord/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗ ██████╗ ██████╗  ██████╗ ██████╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝██╔═══██╗██╔═══██╗██╔══██╗██╔══██╗
██║     ███████║███████║   ██║   ██║     ██║   ██║██║   ██║██████╔╝██║  ██║
██║     ██╔══██║██╔══██║   ██║   ██║     ██║   ██║██║   ██║██╔══██╗██║  ██║
╚██████╗██║  ██║██║  ██║   ██║   ╚██████╗╚██████╔╝╚██████╔╝██║  ██║██████╔╝
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝    ╚═════╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═════╝
`

// Print writes the startup banner with the effective runtime settings and
// a quick production checklist.
func Print(cfg *config.Config, addr, dbPath, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:   %s\n", source)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/orders/{id}/messages          - Send a message")
	fmt.Println("GET  /v1/orders/{id}/messages?limit=n  - Conversation history")
	fmt.Println("GET  /v1/orders/{id}/threads           - Reply threads")
	fmt.Println("GET  /v1/orders/{id}/presence          - Who is in the conversation")
	fmt.Println("WS   /v1/orders/{id}/ws                - Live events")
	fmt.Println("POST /v1/attachments                   - Upload an attachment")

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/orders/o1/messages' -d '{\"sender\":\"u1\",\"text\":\"hello\"}'\n", portOnly(addr))
	fmt.Printf("curl 'http://localhost%s/v1/orders/o1/messages?limit=10'\n", portOnly(addr))

	fmt.Println("\n== Production? ================================================")
	be, fe, ak := 0, 0, 0
	if cfg != nil {
		be = len(cfg.Security.APIKeys.Backend)
		fe = len(cfg.Security.APIKeys.Frontend)
		ak = len(cfg.Security.APIKeys.Admin)
	}
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}

	if cfg != nil && cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	if cfg != nil && cfg.Retention.Enabled {
		info := ""
		if cfg.Retention.Cron != "" {
			info = " (cron=" + cfg.Retention.Cron + ")"
		} else if cfg.Retention.Period != "" {
			info = " (period=" + cfg.Retention.Period + ")"
		}
		fmt.Printf("- Retention: enabled%s\n", info)
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: ======================================================")
}

// portOnly strips the host so examples print as localhost:<port>.
func portOnly(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i:]
		}
	}
	return addr
}
