package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal 按方法/路径/状态统计请求数。
	HTTPRequestsTotal *prometheus.CounterVec
	// SignupsTotal 注册成功数。
	SignupsTotal prometheus.Counter
	// VerificationsTotal 邮箱验证成功数。
	VerificationsTotal prometheus.Counter
	// OTPEmailsSentTotal 验证码邮件发送成功数。
	OTPEmailsSentTotal prometheus.Counter
	// OTPEmailFailuresTotal 验证码邮件发送失败数。
	OTPEmailFailuresTotal prometheus.Counter

	initOnce sync.Once
)

// InitMetrics 初始化并注册 Prometheus 指标，重复调用只生效一次。
func InitMetrics() {
	initOnce.Do(func() {
		HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "folktrade",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests handled, by method, path and status.",
		}, []string{"method", "path", "status"})

		SignupsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "folktrade",
			Name:      "signups_total",
			Help:      "Total successful signups.",
		})

		VerificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "folktrade",
			Name:      "email_verifications_total",
			Help:      "Total successful email verifications.",
		})

		OTPEmailsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "folktrade",
			Name:      "otp_emails_sent_total",
			Help:      "Total OTP emails sent.",
		})

		OTPEmailFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "folktrade",
			Name:      "otp_email_failures_total",
			Help:      "Total OTP email dispatch failures.",
		})

		prometheus.MustRegister(
			HTTPRequestsTotal,
			SignupsTotal,
			VerificationsTotal,
			OTPEmailsSentTotal,
			OTPEmailFailuresTotal,
		)
	})
}
