package authapi

import "net"

// Audit events go to the structured log. Every entry carries the caller's
// network identity so rejected attempts can be correlated.

func (h *Handler) auditLoginSuccess(ip net.IP, ua, principalID string) {
	h.log.Info("auth.login.success", "principal_id", principalID, "ip", ipString(ip), "ua", ua)
}

func (h *Handler) auditLoginFailed(ip net.IP, ua, identifier, reason string) {
	h.log.Info("auth.login.failed", "identifier", identifier, "reason", reason, "ip", ipString(ip), "ua", ua)
}

func (h *Handler) auditRefreshSuccess(ip net.IP, ua, principalID string) {
	h.log.Info("auth.refresh.success", "principal_id", principalID, "ip", ipString(ip), "ua", ua)
}

func (h *Handler) auditRefreshRejected(ip net.IP, ua string) {
	h.log.Info("auth.refresh.rejected", "ip", ipString(ip), "ua", ua)
}

func (h *Handler) auditLogout(ip net.IP, ua, principalID string) {
	h.log.Info("auth.logout", "principal_id", principalID, "ip", ipString(ip), "ua", ua)
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
