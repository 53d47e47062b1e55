package config

// DefaultProfile is used when neither the config nor the flags name one.
const DefaultProfile = "quick_test"

// Profile is a named set of workload settings.
type Profile struct {
	Name     string
	Title    string
	Settings Settings
}

// Profiles lists the built-in presets. Every profile sets every field.
var Profiles = []Profile{
	{
		Name:  "quick_test",
		Title: "Quick Test",
		Settings: Settings{
			Workload: "read_write", Order: "sequential",
			Threads: 1, Samples: 50, Blocks: 25, BlockSizeKB: 1024,
			Engine: "buffered", Direct: Bool(false), WriteSync: Bool(false),
			MultiFile: Bool(false),
		},
	},
	{
		Name:  "max_sequential",
		Title: "Max Sequential Speed",
		Settings: Settings{
			Workload: "read_write", Order: "sequential",
			Threads: 1, Samples: 100, Blocks: 200, BlockSizeKB: 1024,
			Engine: "direct", Direct: Bool(true), WriteSync: Bool(false),
			Alignment: 4096, MultiFile: Bool(false),
		},
	},
	{
		Name:  "random_4k_t32",
		Title: "Random 4K (T32)",
		Settings: Settings{
			Workload: "read_write", Order: "random",
			Threads: 32, Samples: 200, Blocks: 100, BlockSizeKB: 4,
			Engine: "direct", Direct: Bool(true), WriteSync: Bool(false),
			Alignment: 4096, MultiFile: Bool(true),
		},
	},
	{
		Name:  "random_4k_t1",
		Title: "Random 4K (T1)",
		Settings: Settings{
			Workload: "read_write", Order: "random",
			Threads: 1, Samples: 150, Blocks: 50, BlockSizeKB: 4,
			Engine: "buffered", Direct: Bool(false), WriteSync: Bool(false),
			MultiFile: Bool(false),
		},
	},
	{
		Name:  "max_write_stress",
		Title: "Max Write Stress (T4)",
		Settings: Settings{
			Workload: "write", Order: "sequential",
			Threads: 4, Samples: 250, Blocks: 500, BlockSizeKB: 512,
			Engine: "direct", Direct: Bool(true), WriteSync: Bool(true),
			Alignment: 4096, MultiFile: Bool(true),
		},
	},
}

// LookupProfile finds a profile by name.
func LookupProfile(name string) (Profile, bool) {
	for _, p := range Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
