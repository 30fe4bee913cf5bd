package core

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/RecoveryAshes/RepoCrawl/internal/utils"
)

// ResourceMonitor 系统资源监控器
// 职责: 实时监控内存和CPU,计算仓库工作协程上限
type ResourceMonitor struct {
	// 配置参数
	config ResourceMonitorConfig

	// 缓存的内存统计数据
	lastMemStats runtime.MemStats

	// 系统总内存(字节)
	totalMemory uint64

	// 缓存的计算结果
	cachedMaxWorkers int
	lastCacheTime    time.Time
	cacheMu          sync.RWMutex

	// CPU使用率监控
	lastCPUUsage float64
	cpuUsageMu   sync.RWMutex

	// 保护lastMemStats的读写锁
	mu sync.RWMutex

	// 监控控制
	cancelFunc context.CancelFunc
	isRunning  bool
}

// ResourceMonitorConfig 资源监控器配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64 // 安全保留内存(字节)
	SafetyThreshold     int64 // 安全阈值(字节)
	CPULoadThreshold    int   // CPU负载阈值(%)
	MaxWorkersLimit     int   // 绝对最大工作协程数
	WorkerMemoryUsage   int64 // 单个工作协程平均内存消耗(字节)
}

// NewResourceMonitor 创建资源监控器实例
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	// 初始化默认值
	if config.WorkerMemoryUsage == 0 {
		config.WorkerMemoryUsage = 50 * 1024 * 1024 // 50MB
	}
	if config.SafetyReserveMemory == 0 {
		config.SafetyReserveMemory = 512 * 1024 * 1024
	}
	if config.MaxWorkersLimit == 0 {
		config.MaxWorkersLimit = 16
	}

	// 获取系统总内存(使用gopsutil获取真实系统内存)
	vmStat, err := mem.VirtualMemory()
	var totalMem uint64
	if err != nil {
		utils.Warnf("获取系统内存失败,使用默认值: %v", err)
		totalMem = 4 * 1024 * 1024 * 1024 // 默认4GB
	} else {
		totalMem = vmStat.Total
		utils.Infof("系统总内存: %.2f GB", float64(totalMem)/(1024*1024*1024))
	}

	// 读取初始内存统计
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &ResourceMonitor{
		config:       config,
		totalMemory:  totalMem,
		lastMemStats: memStats,
	}
}

// StartMonitoring 启动资源监控
// 启动后台goroutine周期性采样runtime.MemStats和CPU使用率
func (rm *ResourceMonitor) StartMonitoring(interval time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	// 如果已经在运行,直接返回(幂等)
	if rm.isRunning {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rm.cancelFunc = cancel
	rm.isRunning = true

	go rm.monitoringLoop(ctx, interval)
}

// monitoringLoop 后台监控循环
func (rm *ResourceMonitor) monitoringLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 采样内存统计
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)

			rm.mu.Lock()
			rm.lastMemStats = memStats
			rm.mu.Unlock()

			// 更新CPU使用率
			cpuUsage := rm.getCPUUsage()
			rm.cpuUsageMu.Lock()
			rm.lastCPUUsage = cpuUsage
			rm.cpuUsageMu.Unlock()
		}
	}
}

// getCPUUsage 获取系统CPU使用率(百分比)
func (rm *ResourceMonitor) getCPUUsage() float64 {
	// 100毫秒采样间隔,避免阻塞过久; perCPU=false返回所有核心的平均值
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		utils.Warnf("获取CPU使用率失败: %v", err)
		return 0.0
	}
	if len(percentages) == 0 {
		return 0.0
	}
	return percentages[0]
}

// StopMonitoring 停止资源监控
func (rm *ResourceMonitor) StopMonitoring() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.isRunning && rm.cancelFunc != nil {
		rm.cancelFunc()
		rm.isRunning = false
		rm.cancelFunc = nil
	}
}

// RecommendWorkers 动态计算当前允许的最大工作协程数
// 基于可用内存和CPU核心数取较小值,结果缓存1秒
func (rm *ResourceMonitor) RecommendWorkers() int {
	// 检查缓存是否有效
	rm.cacheMu.RLock()
	if time.Since(rm.lastCacheTime) < time.Second && rm.cachedMaxWorkers > 0 {
		cached := rm.cachedMaxWorkers
		rm.cacheMu.RUnlock()
		return cached
	}
	rm.cacheMu.RUnlock()

	rm.mu.RLock()
	memStats := rm.lastMemStats
	rm.mu.RUnlock()

	// 计算可用内存
	availableMemory := int64(rm.totalMemory) - int64(memStats.Alloc) - rm.config.SafetyReserveMemory

	// 基于内存计算上限
	maxByMemory := 1
	if availableMemory > rm.config.SafetyThreshold {
		surplus := availableMemory - rm.config.SafetyThreshold
		maxByMemory = int(surplus / rm.config.WorkerMemoryUsage)
		if maxByMemory < 1 {
			maxByMemory = 1
		}
	}

	// 基于CPU核心数计算上限
	result := maxByMemory
	if cpus := runtime.NumCPU(); cpus < result {
		result = cpus
	}
	if rm.config.MaxWorkersLimit < result {
		result = rm.config.MaxWorkersLimit
	}
	if result < 1 {
		result = 1
	}

	// 更新缓存
	rm.cacheMu.Lock()
	rm.cachedMaxWorkers = result
	rm.lastCacheTime = time.Now()
	rm.cacheMu.Unlock()

	return result
}

// CheckResourceAvailability 检查当前资源是否允许继续调度新仓库
func (rm *ResourceMonitor) CheckResourceAvailability() (ok bool, reason string) {
	rm.mu.RLock()
	memStats := rm.lastMemStats
	rm.mu.RUnlock()

	availableMemory := int64(rm.totalMemory) - int64(memStats.Alloc) - rm.config.SafetyReserveMemory
	if availableMemory < rm.config.SafetyThreshold {
		availableMB := availableMemory / (1024 * 1024)
		utils.Warnf("可用内存不足(当前%dMB),仓库调度受限", availableMB)
		return false, "内存不足"
	}

	// 阈值>=200视为禁用CPU检查
	if rm.config.CPULoadThreshold < 200 {
		rm.cpuUsageMu.RLock()
		cpuUsage := rm.lastCPUUsage
		rm.cpuUsageMu.RUnlock()

		if cpuUsage > float64(rm.config.CPULoadThreshold) {
			return false, "CPU负载过高"
		}
	}

	return true, ""
}
