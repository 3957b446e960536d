package metrics

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/SoYuCry/dex-funding-hub/logger"
)

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
	region    string
}

var cwState atomic.Pointer[cloudWatchState]

var (
	// cloudWatchPublishInterval is the minimum gap between two publishes of
	// the same metric series.
	cloudWatchPublishInterval = 30 * time.Second
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	publishTimesMu sync.Mutex
	publishTimes   = make(map[string]time.Time)
)

func init() {
	cwState.Store(&cloudWatchState{namespace: "FundingHub"})
}

// InitCloudWatch creates the CloudWatch client. When the AWS configuration
// cannot be loaded it logs a warning and publishing stays disabled.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := cloudWatchState{namespace: "FundingHub"}
	if current := cwState.Load(); current != nil {
		state = *current
	}
	state.client = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		state.namespace = namespace
	}
	state.region = region
	if cfg.Region != "" {
		state.region = cfg.Region
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")
}

// EmitMetric logs the metric, hands it to registered handlers and publishes
// it to CloudWatch when configured.
func EmitMetric(log *logger.Log, component, name string, value float64, kind Kind, fields logger.Fields) {
	metric, ok := recordMetric(log, component, name, value, kind, fields)
	if !ok {
		return
	}
	publishMetricDatum(metric, metric.Value)
}

func publishMetricDatum(metric Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	dims := dimensions(metric)
	if !shouldPublish(seriesKey(metric.Name, dims)) {
		return
	}

	unit := cwtypes.StandardUnitCount
	if raw, ok := metric.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(raw); found {
			unit = parsed
		} else {
			logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{"metric": metric.Name, "unit": raw}).Debug("unsupported metric unit; defaulting to Count")
		}
	}

	ts := metric.Timestamp
	if ts.IsZero() {
		ts = timeNow()
	}

	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(metric.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(ts),
	}})
}

func dimensions(metric Metric) []cwtypes.Dimension {
	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(metric.Component)}}

	keys := make([]string, 0, len(metric.Fields))
	for k := range metric.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "unit" {
			continue
		}
		if s, ok := metric.Fields[k].(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}
	return dims
}

func seriesKey(name string, dims []cwtypes.Dimension) string {
	var b strings.Builder
	b.WriteString(name)
	for _, d := range dims {
		b.WriteByte('|')
		b.WriteString(aws.ToString(d.Name))
		b.WriteByte('=')
		b.WriteString(aws.ToString(d.Value))
	}
	return b.String()
}

func shouldPublish(key string) bool {
	now := timeNow()

	publishTimesMu.Lock()
	defer publishTimesMu.Unlock()

	if last, ok := publishTimes[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		return false
	}
	publishTimes[key] = now
	return true
}

func resetMetricPublishTimes() {
	publishTimesMu.Lock()
	publishTimes = make(map[string]time.Time)
	publishTimesMu.Unlock()
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}

	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		names = append(names, aws.ToString(datum.MetricName))
	}
	logger.GetLogger().WithComponent("cloudwatch").WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "seconds":
		return cwtypes.StandardUnitSeconds, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
