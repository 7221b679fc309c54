package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := NewConfig("/backups", "/home/user/.local/share/sbak")
	cfg.Hosts = []HostConfig{
		{
			Name:     "web1",
			Protocol: "sftp",
			Addr:     "web1.example.com:22",
			Username: "backup",
			Password: "secret",
			Roots:    []string{"/var/www", "/etc/nginx"},
			Exclude:  []string{"*.tmp"},
		},
	}
	return cfg
}

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := validConfig()
	original.Exclude = []string{"*.log", "*.swp"}
	original.DeleteRemoved = true
	original.Schedule = ScheduleConfig{Enabled: true, Times: []string{"02:30", "14:00"}}
	original.Hosts = append(original.Hosts, HostConfig{
		Name:     "assets",
		Protocol: "s3",
		S3Bucket: "acme-assets",
		S3Region: "eu-central-1",
		Roots:    []string{"images", "docs"},
	})

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BackupRoot != original.BackupRoot {
		t.Errorf("BackupRoot = %q, want %q", got.BackupRoot, original.BackupRoot)
	}
	if got.MaxVersions != original.MaxVersions {
		t.Errorf("MaxVersions = %d, want %d", got.MaxVersions, original.MaxVersions)
	}
	if !got.DeleteRemoved {
		t.Error("DeleteRemoved not preserved")
	}
	if len(got.Exclude) != 2 {
		t.Fatalf("len(Exclude) = %d, want 2", len(got.Exclude))
	}
	if len(got.Hosts) != 2 {
		t.Fatalf("len(Hosts) = %d, want 2", len(got.Hosts))
	}
	if got.Hosts[0].Protocol != "sftp" {
		t.Errorf("Hosts[0].Protocol = %q, want %q", got.Hosts[0].Protocol, "sftp")
	}
	if got.Hosts[0].Addr != "web1.example.com:22" {
		t.Errorf("Hosts[0].Addr = %q, want %q", got.Hosts[0].Addr, "web1.example.com:22")
	}
	if len(got.Hosts[0].Roots) != 2 {
		t.Errorf("len(Hosts[0].Roots) = %d, want 2", len(got.Hosts[0].Roots))
	}
	if got.Hosts[1].S3Bucket != "acme-assets" {
		t.Errorf("Hosts[1].S3Bucket = %q, want %q", got.Hosts[1].S3Bucket, "acme-assets")
	}
	if len(got.Schedule.Times) != 2 {
		t.Errorf("len(Schedule.Times) = %d, want 2", len(got.Schedule.Times))
	}
}

func TestManager_Read_TOMLSource(t *testing.T) {
	src := `
backup_root = "/srv/backups"
max_versions = 3

exclude = ["*.log"]

[progress]
enabled = true
show_current_file = false

[[hosts]]
name = "web1"
protocol = "sftp"
addr = "10.0.0.5:2222"
username = "backup"
key_file = "/home/user/.ssh/id_ed25519"
roots = ["/var/www"]
exclude = ["cache/*"]
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.BackupRoot != "/srv/backups" {
		t.Errorf("BackupRoot = %q, want /srv/backups", cfg.BackupRoot)
	}
	if cfg.MaxVersions != 3 {
		t.Errorf("MaxVersions = %d, want 3", cfg.MaxVersions)
	}
	if len(cfg.Hosts) != 1 {
		t.Fatalf("len(Hosts) = %d, want 1", len(cfg.Hosts))
	}
	h := cfg.Hosts[0]
	if h.KeyFile != "/home/user/.ssh/id_ed25519" {
		t.Errorf("KeyFile = %q", h.KeyFile)
	}

	merged := cfg.HostExclude(h)
	if len(merged) != 2 || merged[0] != "*.log" || merged[1] != "cache/*" {
		t.Errorf("HostExclude = %v, want global then host patterns", merged)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/backups", "/data/sbak")

	if cfg.BackupRoot != "/backups" {
		t.Errorf("BackupRoot = %q, want %q", cfg.BackupRoot, "/backups")
	}
	if cfg.LogDir != "/data/sbak/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/sbak/log")
	}
	if cfg.MaxVersions < 1 {
		t.Errorf("MaxVersions default = %d, want at least 1", cfg.MaxVersions)
	}
	if cfg.History.Type != "sqlite" {
		t.Errorf("History.Type = %q, want sqlite", cfg.History.Type)
	}
	if cfg.History.DataDir != "/data/sbak/data" {
		t.Errorf("History.DataDir = %q, want %q", cfg.History.DataDir, "/data/sbak/data")
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Run("fills unset fields", func(t *testing.T) {
		cfg := &Config{BackupRoot: "/backups"}
		cfg.ApplyDefaults("/data/sbak")

		if cfg.LogDir != "/data/sbak/log" {
			t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/sbak/log")
		}
		if cfg.MaxVersions != 5 {
			t.Errorf("MaxVersions = %d, want 5", cfg.MaxVersions)
		}
		if cfg.HostWorkers != 2 || cfg.TransferWorkers != 4 {
			t.Errorf("workers = %d/%d, want 2/4", cfg.HostWorkers, cfg.TransferWorkers)
		}
		if cfg.History.Type != "sqlite" {
			t.Errorf("History.Type = %q, want sqlite", cfg.History.Type)
		}
		if cfg.History.DataDir != "/data/sbak/data" {
			t.Errorf("History.DataDir = %q, want %q", cfg.History.DataDir, "/data/sbak/data")
		}
	})

	t.Run("keeps explicit settings", func(t *testing.T) {
		cfg := &Config{
			BackupRoot:  "/backups",
			LogDir:      "/var/log/sbak",
			MaxVersions: 9,
			History:     HistoryConfig{Type: "memory"},
		}
		cfg.ApplyDefaults("/data/sbak")

		if cfg.LogDir != "/var/log/sbak" {
			t.Errorf("LogDir = %q, want explicit value kept", cfg.LogDir)
		}
		if cfg.MaxVersions != 9 {
			t.Errorf("MaxVersions = %d, want 9", cfg.MaxVersions)
		}
		if cfg.History.Type != "memory" {
			t.Errorf("History.Type = %q, want memory", cfg.History.Type)
		}
		if cfg.History.DataDir != "" {
			t.Errorf("History.DataDir = %q, memory store needs no data dir", cfg.History.DataDir)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config passes",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing backup root",
			mutate:  func(c *Config) { c.BackupRoot = "" },
			wantErr: "backup_root",
		},
		{
			name:    "zero max versions",
			mutate:  func(c *Config) { c.MaxVersions = 0 },
			wantErr: "max_versions",
		},
		{
			name:    "no hosts",
			mutate:  func(c *Config) { c.Hosts = nil },
			wantErr: "no hosts",
		},
		{
			name: "duplicate host names",
			mutate: func(c *Config) {
				c.Hosts = append(c.Hosts, c.Hosts[0])
			},
			wantErr: "duplicate host name",
		},
		{
			name: "host name with path separator",
			mutate: func(c *Config) {
				c.Hosts[0].Name = "web/1"
			},
			wantErr: "directory name",
		},
		{
			name: "empty host name",
			mutate: func(c *Config) {
				c.Hosts[0].Name = ""
			},
			wantErr: "empty name",
		},
		{
			name: "bad schedule time",
			mutate: func(c *Config) {
				c.Schedule.Times = []string{"25:99"}
			},
			wantErr: "not HH:MM",
		},
		{
			name: "schedule enabled without times",
			mutate: func(c *Config) {
				c.Schedule.Enabled = true
			},
			wantErr: "no times",
		},
		{
			name: "unknown history type",
			mutate: func(c *Config) {
				c.History.Type = "postgres"
			},
			wantErr: "history type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_CheckHosts(t *testing.T) {
	t.Run("all valid", func(t *testing.T) {
		cfg := validConfig()
		cfg.Hosts = append(cfg.Hosts, HostConfig{
			Name:     "assets",
			Protocol: "s3",
			S3Bucket: "acme-assets",
			S3Region: "eu-central-1",
			Roots:    []string{"images"},
		})

		valid, invalid := cfg.CheckHosts()
		if len(invalid) != 0 {
			t.Fatalf("invalid = %v, want none", invalid)
		}
		if len(valid) != 2 || valid[0].Name != "web1" || valid[1].Name != "assets" {
			t.Errorf("valid hosts = %+v, want web1 then assets", valid)
		}
	})

	t.Run("bad profile disables only its host", func(t *testing.T) {
		cfg := validConfig()
		cfg.Hosts = append(cfg.Hosts, HostConfig{
			Name:     "broken",
			Protocol: "sftp",
			Roots:    []string{"/srv"},
		})

		valid, invalid := cfg.CheckHosts()
		if len(valid) != 1 || valid[0].Name != "web1" {
			t.Errorf("valid hosts = %+v, want web1 only", valid)
		}
		if len(invalid) != 1 {
			t.Fatalf("len(invalid) = %d, want 1", len(invalid))
		}
		if invalid[0].Name != "broken" {
			t.Errorf("invalid[0].Name = %q, want broken", invalid[0].Name)
		}
		if !strings.Contains(invalid[0].Error(), "requires addr") {
			t.Errorf("invalid[0] = %v, want addr complaint", invalid[0])
		}
	})

	tests := []struct {
		name    string
		host    HostConfig
		wantErr string
	}{
		{
			name:    "host without roots",
			host:    HostConfig{Name: "h", Protocol: "memory"},
			wantErr: "no roots",
		},
		{
			name:    "blank root path",
			host:    HostConfig{Name: "h", Protocol: "memory", Roots: []string{"  "}},
			wantErr: "empty root",
		},
		{
			name:    "unknown protocol",
			host:    HostConfig{Name: "h", Protocol: "ftp", Roots: []string{"/x"}},
			wantErr: "unknown protocol",
		},
		{
			name:    "sftp without addr",
			host:    HostConfig{Name: "h", Protocol: "sftp", Username: "u", Roots: []string{"/x"}},
			wantErr: "requires addr",
		},
		{
			name:    "sftp without username",
			host:    HostConfig{Name: "h", Protocol: "sftp", Addr: "h:22", Roots: []string{"/x"}},
			wantErr: "requires username",
		},
		{
			name:    "s3 without bucket",
			host:    HostConfig{Name: "h", Protocol: "s3", S3Region: "eu-central-1", Roots: []string{"x"}},
			wantErr: "s3_bucket",
		},
		{
			name:    "s3 without region or endpoint",
			host:    HostConfig{Name: "h", Protocol: "s3", S3Bucket: "b", Roots: []string{"x"}},
			wantErr: "s3_region or s3_endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Hosts = append(cfg.Hosts, tt.host)

			valid, invalid := cfg.CheckHosts()
			if len(valid) != 1 {
				t.Errorf("len(valid) = %d, want 1", len(valid))
			}
			if len(invalid) != 1 {
				t.Fatalf("len(invalid) = %d, want 1", len(invalid))
			}
			if !strings.Contains(invalid[0].Error(), tt.wantErr) {
				t.Errorf("invalid[0] = %v, want containing %q", invalid[0], tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sbak.toml")
		cfg := NewConfig(filepath.Join(dir, "backups"), dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sbak.toml")
		cfg := NewConfig(filepath.Join(dir, "backups"), dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sbak.toml")
		cfg := validConfig()

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.BackupRoot != cfg.BackupRoot {
			t.Errorf("BackupRoot = %q, want %q", got.BackupRoot, cfg.BackupRoot)
		}
		if len(got.Hosts) != 1 || got.Hosts[0].Name != "web1" {
			t.Errorf("Hosts = %+v, want web1", got.Hosts)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/sbak.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
