package scaling_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/truefoundry/bigtable-autoscaler/pkg/cluster"
	"github.com/truefoundry/bigtable-autoscaler/pkg/config"
	"github.com/truefoundry/bigtable-autoscaler/pkg/scaling"
)

var fixedNow = time.UnixMilli(1519563099032)

func scenarioConfig(minNodes, maxNodes int, opts ...config.Option) config.ScalerConfig {
	base := []config.Option{
		config.WithMinNodes(minNodes),
		config.WithMaxNodes(maxNodes),
		config.WithIncreaseStep(5),
		config.WithDecreaseStep(3),
		config.WithMaxCPU(0.5),
		config.WithMinCPU(0.2),
		config.WithCooldown(10 * time.Second),
	}
	cfg, err := config.NewScalerConfig("my-project", "my-instance", append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	return cfg
}

var _ = Describe("Scaler", func() {
	var (
		ctx context.Context
		clk *clocktesting.FakeClock
	)

	BeforeEach(func() {
		ctx = context.Background()
		clk = clocktesting.NewFakeClock(fixedNow)
	})

	DescribeTable("resizes the cluster",
		func(size int, cpu float64, cfg config.ScalerConfig, runs int, expected int) {
			svc := cluster.NewFake(size, cpu)
			s := scaling.NewScaler(cfg, svc, clk, zap.NewNop())
			for i := 0; i < runs; i++ {
				_, err := s.Tick(ctx)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(svc.Size()).To(Equal(expected))
			Expect(len(svc.Writes())).To(BeNumerically("<=", 1))
		},
		Entry("scales up by the increase step", 10, 0.8, scenarioConfig(5, 20), 1, 15),
		Entry("scales down by the decrease step", 10, 0.1, scenarioConfig(5, 20), 1, 7),
		Entry("holds at max nodes", 10, 0.8, scenarioConfig(5, 10), 1, 10),
		Entry("holds at min nodes", 10, 0.1, scenarioConfig(10, 20), 1, 10),
		Entry("holds when in band", 10, 0.4, scenarioConfig(5, 20, config.WithMaxCPU(0.9), config.WithMinCPU(0.1)), 1, 10),
		Entry("scales up once under a frozen clock", 10, 0.9, scenarioConfig(5, 20, config.WithMaxCPU(0.4)), 4, 15),
		Entry("scales down once under a frozen clock", 10, 0.1, scenarioConfig(5, 20, config.WithMaxCPU(0.9), config.WithMinCPU(0.5)), 4, 7),
	)

	Context("bounds", func() {
		It("clamps a scale up to max nodes", func() {
			svc := cluster.NewFake(18, 0.9)
			s := scaling.NewScaler(scenarioConfig(5, 20), svc, clk, zap.NewNop())
			d, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Action).To(Equal(scaling.ScaleUp))
			Expect(d.TargetSize).To(Equal(20))
			Expect(svc.Writes()).To(Equal([]int{20}))
		})

		It("clamps a scale down to min nodes", func() {
			svc := cluster.NewFake(6, 0.05)
			s := scaling.NewScaler(scenarioConfig(5, 20), svc, clk, zap.NewNop())
			d, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Action).To(Equal(scaling.ScaleDown))
			Expect(svc.Writes()).To(Equal([]int{5}))
		})

		DescribeTable("only writes sizes within bounds when the cluster was resized by hand",
			func(size int, cpu float64, expected int) {
				cfg := scenarioConfig(5, 20, config.WithIncreaseStep(1))
				svc := cluster.NewFake(size, cpu)
				s := scaling.NewScaler(cfg, svc, clk, zap.NewNop())
				_, err := s.Tick(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(svc.Writes()).To(Equal([]int{expected}))
				for _, w := range svc.Writes() {
					Expect(w).To(BeNumerically(">=", cfg.MinNodes))
					Expect(w).To(BeNumerically("<=", cfg.MaxNodes))
				}
			},
			Entry("above max with low cpu", 40, 0.1, 20),
			Entry("below min with high cpu", 1, 0.9, 5),
		)

		It("does not write or start a cooldown when a bound is reached", func() {
			svc := cluster.NewFake(20, 0.9)
			s := scaling.NewScaler(scenarioConfig(5, 20), svc, clk, zap.NewNop())
			d, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Action).To(Equal(scaling.AtMax))
			Expect(svc.Writes()).To(BeEmpty())
			Expect(s.LastAdjustment().IsZero()).To(BeTrue())
		})
	})

	Context("thresholds", func() {
		It("treats cpu equal to a threshold as in band", func() {
			for _, cpu := range []float64{0.5, 0.2} {
				svc := cluster.NewFake(10, cpu)
				s := scaling.NewScaler(scenarioConfig(5, 20), svc, clk, zap.NewNop())
				d, err := s.Tick(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(d.Action).To(Equal(scaling.NoChange))
				Expect(svc.Writes()).To(BeEmpty())
			}
		})
	})

	Context("cooldown", func() {
		It("performs no IO while cooling down", func() {
			svc := cluster.NewFake(10, 0.9)
			s := scaling.NewScaler(scenarioConfig(5, 20), svc, clk, zap.NewNop())
			_, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())

			sizeReads, cpuReads := svc.Reads()
			d, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Action).To(Equal(scaling.CoolingDown))
			Expect(d.ResumeAt).To(Equal(fixedNow.Add(10 * time.Second)))

			afterSize, afterCPU := svc.Reads()
			Expect(afterSize).To(Equal(sizeReads))
			Expect(afterCPU).To(Equal(cpuReads))
		})

		It("adjusts again once the cooldown has elapsed", func() {
			svc := cluster.NewFake(10, 0.9)
			s := scaling.NewScaler(scenarioConfig(5, 30), svc, clk, zap.NewNop())
			_, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())

			clk.Step(9 * time.Second)
			d, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Action).To(Equal(scaling.CoolingDown))

			clk.Step(time.Second)
			d, err = s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Action).To(Equal(scaling.ScaleUp))
			Expect(svc.Writes()).To(Equal([]int{15, 20}))
			Expect(s.LastAdjustment()).To(Equal(fixedNow.Add(10 * time.Second)))
		})

		It("never cools down on the first tick", func() {
			cfg := scenarioConfig(5, 20, config.WithCooldown(24*time.Hour))
			svc := cluster.NewFake(10, 0.9)
			s := scaling.NewScaler(cfg, svc, clk, zap.NewNop())
			d, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Action).To(Equal(scaling.ScaleUp))
		})
	})

	Context("errors", func() {
		It("does not read the size or write when the cpu read fails", func() {
			svc := cluster.NewFake(10, 0.9)
			svc.SetError(errors.New("monitoring unavailable"))
			s := scaling.NewScaler(scenarioConfig(5, 20), svc, clk, zap.NewNop())

			_, err := s.Tick(ctx)
			Expect(err).To(MatchError(ContainSubstring("monitoring unavailable")))
			sizeReads, cpuReads := svc.Reads()
			Expect(cpuReads).To(Equal(1))
			Expect(sizeReads).To(Equal(0))
			Expect(svc.Writes()).To(BeEmpty())
		})

		It("rejects an out of range cpu sample", func() {
			svc := cluster.NewFake(10, 1.5)
			s := scaling.NewScaler(scenarioConfig(5, 20), svc, clk, zap.NewNop())
			_, err := s.Tick(ctx)
			Expect(err).To(MatchError(cluster.ErrInvalidCPUUsage))
			Expect(svc.Writes()).To(BeEmpty())
		})

		It("does not start a cooldown when the write fails", func() {
			svc := &failingWrites{Fake: cluster.NewFake(10, 0.9)}
			s := scaling.NewScaler(scenarioConfig(5, 20), svc, clk, zap.NewNop())

			_, err := s.Tick(ctx)
			Expect(err).To(HaveOccurred())
			Expect(s.LastAdjustment().IsZero()).To(BeTrue())

			svc.ok = true
			d, err := s.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Action).To(Equal(scaling.ScaleUp))
		})
	})
})

var _ = Describe("Decide", func() {
	cfg := config.ScalerConfig{MinNodes: 3, MaxNodes: 10, IncreaseStep: 2, DecreaseStep: 0, MaxCPU: 0.7, MinCPU: 0.2}

	It("keeps the size with a zero step", func() {
		d := scaling.Decide(cfg, 0.1, 5)
		Expect(d.Action).To(Equal(scaling.ScaleDown))
		Expect(d.TargetSize).To(Equal(5))
		Expect(d.Resizes()).To(BeTrue())
	})

	It("keeps every resize target within bounds", func() {
		for size := 0; size <= 3*cfg.MaxNodes; size++ {
			for _, cpu := range []float64{0, 0.2, 0.5, 0.7, 1} {
				d := scaling.Decide(cfg, cpu, size)
				if !d.Resizes() {
					Expect(d.TargetSize).To(Equal(size))
					continue
				}
				Expect(d.TargetSize).To(BeNumerically(">=", cfg.MinNodes), "size=%d cpu=%v", size, cpu)
				Expect(d.TargetSize).To(BeNumerically("<=", cfg.MaxNodes), "size=%d cpu=%v", size, cpu)
			}
		}
	})

	It("pulls a size above max back to max on scale down", func() {
		d := scaling.Decide(cfg, 0.1, 40)
		Expect(d.Action).To(Equal(scaling.ScaleDown))
		Expect(d.TargetSize).To(Equal(cfg.MaxNodes))
	})

	It("lifts a size below min up to min on scale up", func() {
		d := scaling.Decide(cfg, 0.9, 1)
		Expect(d.Action).To(Equal(scaling.ScaleUp))
		Expect(d.TargetSize).To(Equal(cfg.MinNodes))
	})
})

type failingWrites struct {
	*cluster.Fake
	ok bool
}

func (f *failingWrites) SetClusterSize(ctx context.Context, size int) error {
	if !f.ok {
		return errors.New("update rejected")
	}
	return f.Fake.SetClusterSize(ctx, size)
}
