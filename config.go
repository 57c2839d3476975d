package statsite

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultMetricsAddr is the default TCP address on which to listen for metrics.
	DefaultMetricsAddr = ":8125"
	// DefaultMetricsAddrUDP is the default UDP address on which to listen for metrics.
	DefaultMetricsAddrUDP = ":8125"
	// DefaultFlushInterval is the default interval between table rotations.
	DefaultFlushInterval = 10 * time.Second
	// DefaultTimerEps is the default error bound for the timer quantile sketch.
	DefaultTimerEps = 0.01
	// DefaultSetPrecision is the default HyperLogLog precision.
	DefaultSetPrecision = 12
	// DefaultStreamCmd is the default command consuming the flush stream.
	DefaultStreamCmd = "cat"
	// DefaultWebAddr is the default address of the lifecycle HTTP server (disabled).
	DefaultWebAddr = ""
)

const (
	// ParamMetricsAddr is the name of parameter with the TCP listen address.
	ParamMetricsAddr = "metrics-addr"
	// ParamMetricsAddrUDP is the name of parameter with the UDP listen address.
	ParamMetricsAddrUDP = "metrics-addr-udp"
	// ParamFlushInterval is the name of parameter with the flush interval.
	ParamFlushInterval = "flush-interval"
	// ParamTimerEps is the name of parameter with the quantile sketch error bound.
	ParamTimerEps = "timer-eps"
	// ParamSetPrecision is the name of parameter with the HyperLogLog precision.
	ParamSetPrecision = "set-precision"
	// ParamBinaryStream is the name of parameter selecting binary flush output.
	ParamBinaryStream = "binary-stream"
	// ParamStreamCmd is the name of parameter with the flush consumer command.
	ParamStreamCmd = "stream-cmd"
	// ParamInputCounter is the name of parameter with the self-count counter name.
	ParamInputCounter = "input-counter"
	// ParamHistograms is the name of the histogram configuration section.
	ParamHistograms = "histograms"
	// ParamWebAddr is the name of parameter with the lifecycle HTTP address.
	ParamWebAddr = "web-addr"
)

// AddFlags adds flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.String(ParamMetricsAddr, DefaultMetricsAddr, "Address on which to listen for TCP metrics")
	fs.String(ParamMetricsAddrUDP, DefaultMetricsAddrUDP, "Address on which to listen for UDP metrics, empty to disable")
	fs.Duration(ParamFlushInterval, DefaultFlushInterval, "How often to flush metrics to the stream command")
	fs.Float64(ParamTimerEps, DefaultTimerEps, "Error bound for timer quantile estimates")
	fs.Uint8(ParamSetPrecision, DefaultSetPrecision, "HyperLogLog precision for set cardinality estimates")
	fs.Bool(ParamBinaryStream, false, "Emit the flush stream in binary format instead of text")
	fs.String(ParamStreamCmd, DefaultStreamCmd, "Command to pipe each flush to")
	fs.String(ParamInputCounter, "", "Name of a counter incremented for every accepted sample, empty to disable")
	fs.String(ParamWebAddr, DefaultWebAddr, "Address of the lifecycle HTTP server, empty to disable")
}

// NewRegistryOptionsFromViper validates the aggregation settings and builds
// the RegistryOptions shared by every epoch.
func NewRegistryOptionsFromViper(v *viper.Viper) (RegistryOptions, error) {
	eps := v.GetFloat64(ParamTimerEps)
	if eps <= 0 || eps >= 1 {
		return RegistryOptions{}, fmt.Errorf("%s must be in (0, 1), got %v", ParamTimerEps, eps)
	}
	newEstimator, err := NewHLLEstimatorFactory(uint8(v.GetUint32(ParamSetPrecision)))
	if err != nil {
		return RegistryOptions{}, fmt.Errorf("%s: %v", ParamSetPrecision, err)
	}
	histograms, err := NewHistogramResolverFromViper(v)
	if err != nil {
		return RegistryOptions{}, err
	}
	return RegistryOptions{
		NewSketch:    NewCKMSSketchFactory(eps, Quantiles),
		NewEstimator: newEstimator,
		Histograms:   histograms,
	}, nil
}
