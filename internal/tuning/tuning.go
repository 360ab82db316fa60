package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Inventory InventoryTuning `yaml:"inventory"`
	Follow    FollowTuning    `yaml:"follow"`
	Defend    DefendTuning    `yaml:"defend"`
	Tasks     TaskTuning      `yaml:"tasks"`
	Auto      AutoTuning      `yaml:"auto"`
	Deposit   DepositTuning   `yaml:"deposit"`
	Chat      ChatTuning      `yaml:"chat"`
	Scheduler SchedulerTuning `yaml:"scheduler"`
}

type InventoryTuning struct {
	// MinFreeSlots is the inventory threshold: fewer free slots than this
	// forces a deposit before an executor continues.
	MinFreeSlots int `yaml:"min_free_slots"`
	DefaultSlots int `yaml:"default_slots"`
}

type FollowTuning struct {
	PeriodMs      int     `yaml:"period_ms"`
	Epsilon       float64 `yaml:"epsilon"`
	GoalRadius    float64 `yaml:"goal_radius"`
	MoveTimeoutMs int     `yaml:"move_timeout_ms"`
}

type DefendTuning struct {
	PeriodMs          int      `yaml:"period_ms"`
	EngageRadius      float64  `yaml:"engage_radius"`
	MeleeRange        float64  `yaml:"melee_range"`
	LowHealth         float64  `yaml:"low_health"`
	ArmorEveryTicks   int      `yaml:"armor_every_ticks"`
	RetreatDurationMs int      `yaml:"retreat_duration_ms"`
	RetreatDistance   float64  `yaml:"retreat_distance"`
	ChaseTimeoutMs    int      `yaml:"chase_timeout_ms"`
	HostileMobs       []string `yaml:"hostile_mobs"`
}

type CropSpec struct {
	MatureAge int    `yaml:"mature_age"`
	Seed      string `yaml:"seed"`
}

type TaskTuning struct {
	DeforestRadius int                 `yaml:"deforest_radius"`
	FarmRadius     int                 `yaml:"farm_radius"`
	SettleMs       int                 `yaml:"settle_ms"`
	ProgressEvery  int                 `yaml:"progress_every"`
	Crops          map[string]CropSpec `yaml:"crops"`
	OreToken       string              `yaml:"ore_token"`
	MaxStripPath   int                 `yaml:"max_strip_path"`
}

type AutoTuning struct {
	RoundIntervalMs int    `yaml:"round_interval_ms"`
	ChopRadius      int    `yaml:"chop_radius"`
	FarmRadius      int    `yaml:"farm_radius"`
	MineFrom        [3]int `yaml:"mine_from"`
	MineTo          [3]int `yaml:"mine_to"`
}

// ItemMatch selects items by exact name or by whole name token.
type ItemMatch struct {
	Names  []string `yaml:"names,omitempty"`
	Tokens []string `yaml:"tokens,omitempty"`
}

type DepositTuning struct {
	NearbyRadius  int       `yaml:"nearby_radius"`
	ArriveWaitMs  int       `yaml:"arrive_wait_ms"`
	KeepOnDump    ItemMatch `yaml:"keep_on_dump"`
	KeepTools     ItemMatch `yaml:"keep_tools"`
	SethomeRadius int       `yaml:"sethome_radius"`
}

type ChatTuning struct {
	Prefix       string   `yaml:"prefix"`
	AllowedUsers []string `yaml:"allowed_users"`
}

type SchedulerTuning struct {
	ResolutionMs int `yaml:"resolution_ms"`
	PoolSize     int `yaml:"pool_size"`
}

func Defaults() Tuning {
	return Tuning{
		Inventory: InventoryTuning{MinFreeSlots: 6, DefaultSlots: 36},
		Follow: FollowTuning{
			PeriodMs:      1000,
			Epsilon:       0.5,
			GoalRadius:    1,
			MoveTimeoutMs: 3000,
		},
		Defend: DefendTuning{
			PeriodMs:          750,
			EngageRadius:      50,
			MeleeRange:        3.5,
			LowHealth:         6,
			ArmorEveryTicks:   10,
			RetreatDurationMs: 2000,
			RetreatDistance:   8,
			ChaseTimeoutMs:    600,
			HostileMobs: []string{
				"zombie", "skeleton", "creeper", "spider", "husk", "drowned",
				"wither_skeleton", "stray", "witch", "enderman", "pillager",
				"vindicator", "evoker", "vex", "slime", "magma_cube", "blaze", "ghast",
			},
		},
		Tasks: TaskTuning{
			DeforestRadius: 50,
			FarmRadius:     20,
			SettleMs:       200,
			ProgressEvery:  10,
			Crops: map[string]CropSpec{
				"wheat":     {MatureAge: 7, Seed: "wheat_seeds"},
				"carrots":   {MatureAge: 7, Seed: "carrot"},
				"potatoes":  {MatureAge: 7, Seed: "potato"},
				"beetroots": {MatureAge: 3, Seed: "beetroot_seeds"},
			},
			OreToken:     "ore",
			MaxStripPath: 4096,
		},
		Auto: AutoTuning{
			RoundIntervalMs: 2000,
			ChopRadius:      50,
			FarmRadius:      20,
			MineFrom:        [3]int{-5, -1, -5},
			MineTo:          [3]int{5, -5, 5},
		},
		Deposit: DepositTuning{
			NearbyRadius:  4,
			ArriveWaitMs:  1000,
			KeepOnDump:    ItemMatch{Tokens: []string{"chest"}},
			KeepTools:     ItemMatch{Tokens: []string{"pickaxe", "axe", "shovel", "hoe", "sword"}},
			SethomeRadius: 3,
		},
		Chat:      ChatTuning{Prefix: "!", AllowedUsers: []string{"*"}},
		Scheduler: SchedulerTuning{ResolutionMs: 50, PoolSize: 8},
	}
}

// Load reads path over Defaults. A missing file is not an error.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	for i, m := range t.Defend.HostileMobs {
		t.Defend.HostileMobs[i] = strings.ToLower(strings.TrimSpace(m))
	}
	if t.Chat.Prefix == "" {
		t.Chat.Prefix = "!"
	}
	if len(t.Chat.AllowedUsers) == 0 {
		t.Chat.AllowedUsers = []string{"*"}
	}
	if t.Scheduler.ResolutionMs <= 0 {
		t.Scheduler.ResolutionMs = 50
	}
	if t.Scheduler.PoolSize <= 0 {
		t.Scheduler.PoolSize = 8
	}
	if t.Tasks.ProgressEvery <= 0 {
		t.Tasks.ProgressEvery = 10
	}
	if t.Tasks.MaxStripPath <= 0 {
		t.Tasks.MaxStripPath = 4096
	}
}

func (t Tuning) Validate() error {
	if t.Inventory.MinFreeSlots < 0 {
		return fmt.Errorf("inventory.min_free_slots must be >= 0")
	}
	if t.Inventory.DefaultSlots <= 0 {
		return fmt.Errorf("inventory.default_slots must be > 0")
	}
	if t.Follow.PeriodMs <= 0 || t.Defend.PeriodMs <= 0 {
		return fmt.Errorf("follow.period_ms and defend.period_ms must be > 0")
	}
	if t.Follow.Epsilon < 0 {
		return fmt.Errorf("follow.epsilon must be >= 0")
	}
	if t.Defend.EngageRadius <= 0 {
		return fmt.Errorf("defend.engage_radius must be > 0")
	}
	if t.Defend.MeleeRange <= 0 || t.Defend.MeleeRange > t.Defend.EngageRadius {
		return fmt.Errorf("defend.melee_range must be in (0, engage_radius]")
	}
	if t.Defend.ArmorEveryTicks <= 0 {
		return fmt.Errorf("defend.armor_every_ticks must be > 0")
	}
	if len(t.Defend.HostileMobs) == 0 {
		return fmt.Errorf("defend.hostile_mobs must not be empty")
	}
	for name, c := range t.Tasks.Crops {
		if c.MatureAge <= 0 {
			return fmt.Errorf("crop %s mature_age must be > 0", name)
		}
	}
	if t.Deposit.NearbyRadius <= 0 {
		return fmt.Errorf("deposit.nearby_radius must be > 0")
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (f FollowTuning) Period() time.Duration      { return ms(f.PeriodMs) }
func (f FollowTuning) MoveTimeout() time.Duration { return ms(f.MoveTimeoutMs) }

func (d DefendTuning) Period() time.Duration          { return ms(d.PeriodMs) }
func (d DefendTuning) RetreatDuration() time.Duration { return ms(d.RetreatDurationMs) }
func (d DefendTuning) ChaseTimeout() time.Duration    { return ms(d.ChaseTimeoutMs) }

func (t TaskTuning) Settle() time.Duration { return ms(t.SettleMs) }

func (a AutoTuning) RoundInterval() time.Duration { return ms(a.RoundIntervalMs) }

func (d DepositTuning) ArriveWait() time.Duration { return ms(d.ArriveWaitMs) }

func (s SchedulerTuning) Resolution() time.Duration { return ms(s.ResolutionMs) }
