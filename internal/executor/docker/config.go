package docker

// Config holds the configuration for the docker runtime.
type Config struct {
	// Image is the Docker image every cell container is created from.
	Image string
	// Interpreter is the interpreter command inside the image.
	Interpreter string
	// MemoryLimit is the cgroup memory ceiling of each container (in bytes).
	// Requests asking for less are still held to their own limit by the
	// harness; requests asking for more are capped here.
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// PidsLimit caps the number of processes inside a container.
	PidsLimit int64
	// TmpfsSize is the size option of the writable /tmp mount.
	TmpfsSize string
}

// DefaultConfig provides sensible defaults for a Python sandbox.
func DefaultConfig() Config {
	return Config{
		// Use a lightweight python image
		Image:       "python:3.12-alpine",
		Interpreter: "python3",
		// 128 MB memory limit
		MemoryLimit: 128 * 1024 * 1024,
		// 0.5 CPU shares
		CPULimit:  0.5,
		PoolSize:  3,
		PidsLimit: 16,
		TmpfsSize: "16m",
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Image == "" {
		c.Image = d.Image
	}
	if c.Interpreter == "" {
		c.Interpreter = d.Interpreter
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = d.MemoryLimit
	}
	if c.CPULimit <= 0 {
		c.CPULimit = d.CPULimit
	}
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.PidsLimit <= 0 {
		c.PidsLimit = d.PidsLimit
	}
	if c.TmpfsSize == "" {
		c.TmpfsSize = d.TmpfsSize
	}
	return c
}
