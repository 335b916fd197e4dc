package restful

import (
	"context"
	"net"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/api_response"
	"github.com/okieraised/relay-controller/internal/cerrors"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/utilities"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

type IHealthcheckService interface {
	Healthcheck(ctx *gin.Context, input *HealthcheckInput) (*api_response.BaseOutput, *cerrors.AppError)
}

type HealthcheckService struct {
	relays RelayFaults
	logger *log.Logger
}

func NewHealthcheckService(options ...func(*HealthcheckService)) *HealthcheckService {
	svc := &HealthcheckService{}
	for _, opt := range options {
		opt(svc)
	}
	svc.logger = log.Component("healthcheck")
	return svc
}

// WithHealthRelays reports the controller degraded while any relay is faulted.
func WithHealthRelays(r RelayFaults) func(*HealthcheckService) {
	return func(svc *HealthcheckService) { svc.relays = r }
}

type HealthcheckInput struct {
	TracerCtx context.Context
	Tracer    trace.Tracer
}

type HealthcheckOutput struct {
	Status        string      `json:"status"`
	FaultedRelays []string    `json:"faulted_relays"`
	Host          HostInfo    `json:"host"`
	Memory        MemoryInfo  `json:"memory"`
	Network       NetworkInfo `json:"network"`
	CPU           CPUInfo     `json:"cpu"`
}

type MemoryInfo struct {
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

type NetworkInfo struct {
	OutboundIP   string   `json:"outbound_ip,omitempty"`
	PhysicalMacs []string `json:"physical_macs"`
}

type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	Arch            string `json:"arch"`
	Uptime          uint64 `json:"uptime"`
	BootTime        uint64 `json:"boot_time"`
	HostID          string `json:"host_id"`
}

type CPUInfo struct {
	ModelName     string `json:"model_name"`
	PhysicalCores int    `json:"physical_cores"`
	LogicalCores  int    `json:"logical_cores"`
}

func (svc *HealthcheckService) Healthcheck(ctx *gin.Context, input *HealthcheckInput) (*api_response.BaseOutput, *cerrors.AppError) {
	rootCtx, span := input.Tracer.Start(input.TracerCtx, "healthcheck-handler")
	defer span.End()

	reqCtx := ctx.Request.Context()
	lg := svc.logger.With(
		zap.String(constants.APIFieldRequestID, ctx.GetString(constants.APIFieldRequestID)),
	)

	out := HealthcheckOutput{Status: HealthOK, FaultedRelays: []string{}}
	if svc.relays != nil {
		out.FaultedRelays = append(out.FaultedRelays, svc.relays.Faulted()...)
		if len(out.FaultedRelays) > 0 {
			out.Status = HealthDegraded
		}
	}

	_, cSpan := input.Tracer.Start(rootCtx, "get-host-info")
	hostStat, err := host.InfoWithContext(reqCtx)
	cSpan.End()
	if err != nil {
		lg.Error(errors.Wrap(err, "failed to get host info").Error())
		return nil, cerrors.ErrGenericInternalServer
	}
	out.Host = HostInfo{
		Hostname:        hostStat.Hostname,
		OS:              hostStat.OS,
		Platform:        hostStat.Platform,
		PlatformVersion: hostStat.PlatformVersion,
		KernelVersion:   hostStat.KernelVersion,
		Arch:            hostStat.KernelArch,
		Uptime:          hostStat.Uptime,
		BootTime:        hostStat.BootTime,
		HostID:          hostStat.HostID,
	}

	_, cSpan = input.Tracer.Start(rootCtx, "get-memory-info")
	memoryInfo, err := mem.VirtualMemoryWithContext(reqCtx)
	cSpan.End()
	if err != nil {
		lg.Error(errors.Wrap(err, "failed to get memory info").Error())
		return nil, cerrors.ErrGenericInternalServer
	}
	out.Memory = MemoryInfo{
		Total:       memoryInfo.Total,
		Free:        memoryInfo.Free,
		UsedPercent: memoryInfo.UsedPercent,
	}

	_, cSpan = input.Tracer.Start(rootCtx, "get-net-info")
	ifaces, err := psnet.InterfacesWithContext(reqCtx)
	if err != nil {
		cSpan.End()
		lg.Error(errors.Wrap(err, "failed to list network interfaces").Error())
		return nil, cerrors.ErrGenericInternalServer
	}
	out.Network.PhysicalMacs = physicalMACs(ifaces)
	// The controller may run without a default route.
	if ip, err := utilities.OutboundIP(reqCtx, constants.DefaultOutboundProbeAddr); err == nil {
		out.Network.OutboundIP = ip.String()
	} else {
		lg.Debug("No outbound ip", zap.Error(err))
	}
	cSpan.End()

	_, cSpan = input.Tracer.Start(rootCtx, "get-cpu-info")
	cpuStat, err := cpu.InfoWithContext(reqCtx)
	if err != nil {
		cSpan.End()
		lg.Error(errors.Wrap(err, "failed to get cpu info").Error())
		return nil, cerrors.ErrGenericInternalServer
	}
	if len(cpuStat) > 0 {
		out.CPU.ModelName = cpuStat[0].ModelName
	}
	out.CPU.PhysicalCores, _ = cpu.CountsWithContext(reqCtx, false)
	out.CPU.LogicalCores, _ = cpu.CountsWithContext(reqCtx, true)
	cSpan.End()

	return &api_response.BaseOutput{
		Code:    cerrors.OK.Code,
		Message: cerrors.OK.Message,
		Data:    out,
	}, nil
}

// physicalMACs keeps interfaces that are up and carry a universally
// administered hardware address.
func physicalMACs(ifaces psnet.InterfaceStatList) []string {
	out := make([]string, 0, len(ifaces))
	for _, ifc := range ifaces {
		if ifc.HardwareAddr == "" || !slices.Contains(ifc.Flags, "up") {
			continue
		}
		hw, err := net.ParseMAC(ifc.HardwareAddr)
		if err != nil || len(hw) == 0 || hw[0]&2 == 2 {
			continue
		}
		out = append(out, ifc.HardwareAddr)
	}
	return out
}
