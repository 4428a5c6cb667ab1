package prober

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/pkg/model"
)

// ResolverMetadataKey 服务元数据中指定解析服务器的键
const ResolverMetadataKey = "resolver"

// DNSProber 通过A记录查询探测域名解析是否正常
type DNSProber struct {
	client         *dns.Client
	resolver       string
	defaultTimeout time.Duration
}

// NewDNSProber 创建DNS探测器，resolver形如8.8.8.8:53
func NewDNSProber(resolver string, defaultTimeout time.Duration) *DNSProber {
	return &DNSProber{
		client:         new(dns.Client),
		resolver:       resolver,
		defaultTimeout: defaultTimeout,
	}
}

// ClassifyRcode 根据DNS应答判断健康状态
func ClassifyRcode(rcode int, answers int) model.HealthStatus {
	switch rcode {
	case dns.RcodeSuccess:
		if answers > 0 {
			return model.HealthStatusHealthy
		}
		return model.HealthStatusDegraded
	case dns.RcodeNameError:
		return model.HealthStatusDegraded
	default:
		return model.HealthStatusUnhealthy
	}
}

// Probe 执行探测，只有传输层错误才会重试
func (p *DNSProber) Probe(ctx context.Context, svc *model.Service) model.ProbeResult {
	result := model.ProbeResult{Service: svc.Name}

	host, err := registry.DNSHost(svc.URL)
	if err != nil {
		result.Status = model.HealthStatusUnhealthy
		result.Error = err.Error()
		result.Attempts = 1
		result.CheckedAt = time.Now().UTC()
		return result
	}

	resolver := p.resolver
	if r := svc.Metadata[ResolverMetadataKey]; r != "" {
		resolver = r
	}
	timeout := svc.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true

	for attempt := 0; attempt <= svc.Retries; attempt++ {
		result.Attempts = attempt + 1

		start := time.Now()
		qctx, cancel := context.WithTimeout(ctx, timeout)
		r, _, err := p.client.ExchangeContext(qctx, m, resolver)
		cancel()
		result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
		result.CheckedAt = time.Now().UTC()

		if err == nil && r != nil {
			result.Status = ClassifyRcode(r.Rcode, len(r.Answer))
			result.Error = ""
			if result.Status != model.HealthStatusHealthy {
				result.Error = dns.RcodeToString[r.Rcode]
			}
			return result
		}

		result.Status = model.HealthStatusUnhealthy
		if err != nil {
			result.Error = err.Error()
		}
		if ctx.Err() != nil {
			break
		}
	}
	return result
}
