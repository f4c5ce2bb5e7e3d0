package services

import (
	"errors"
	"testing"
)

// MockRuntime records calls instead of shelling out.
type MockRuntime struct {
	isRunning         bool
	containerStatuses map[string]string
	Restarted         []string
	ComposeDowns      []string
	RemovedVolumes    bool
	restartError      error
	composeError      error
}

func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		isRunning:         true,
		containerStatuses: make(map[string]string),
	}
}

func (m *MockRuntime) Binary() string {
	return "mock"
}

func (m *MockRuntime) IsRunning() bool {
	return m.isRunning
}

func (m *MockRuntime) RestartContainer(name string) error {
	if m.restartError != nil {
		return m.restartError
	}
	m.Restarted = append(m.Restarted, name)
	m.containerStatuses[name] = containerStatusRunning
	return nil
}

func (m *MockRuntime) GetContainerStatus(name string) (string, error) {
	status, ok := m.containerStatuses[name]
	if !ok {
		return "", errors.New("no such container")
	}
	return status, nil
}

func (m *MockRuntime) IsContainerRunning(name string) (bool, error) {
	status, err := m.GetContainerStatus(name)
	if err != nil {
		return false, nil
	}
	return status == containerStatusRunning, nil
}

func (m *MockRuntime) ComposeDown(composeFile string, removeVolumes bool) error {
	if m.composeError != nil {
		return m.composeError
	}
	m.ComposeDowns = append(m.ComposeDowns, composeFile)
	m.RemovedVolumes = removeVolumes
	return nil
}

func TestNewRuntime(t *testing.T) {
	tests := []struct {
		binary  string
		want    string
		wantErr bool
	}{
		{"docker", "docker", false},
		{" Podman ", "podman", false},
		{"containerd", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.binary, func(t *testing.T) {
			rt, err := NewRuntime(tt.binary)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRuntime(%q) error = %v, wantErr %v", tt.binary, err, tt.wantErr)
			}
			if err == nil && rt.Binary() != tt.want {
				t.Errorf("Binary() = %s, want %s", rt.Binary(), tt.want)
			}
		})
	}
}

func TestGenericRuntime_RejectsInvalidNames(t *testing.T) {
	rt := NewGenericRuntime("docker")

	for _, name := range []string{"", "-rm", "a b", "x;rm -rf /"} {
		if err := rt.RestartContainer(name); err == nil {
			t.Errorf("RestartContainer(%q) should fail", name)
		}
		if _, err := rt.GetContainerStatus(name); err == nil {
			t.Errorf("GetContainerStatus(%q) should fail", name)
		}
	}
}

func TestDetectRuntime(t *testing.T) {
	// Passes whether or not a daemon is available locally
	runtime, err := DetectRuntime("docker")

	if err != nil && runtime != nil {
		t.Error("If error is returned, runtime should be nil")
	}
	if err == nil && runtime == nil {
		t.Error("If no error, runtime should not be nil")
	}

	if _, err := DetectRuntime("lxc"); err == nil {
		t.Error("DetectRuntime() should reject unknown runtimes")
	}
}

func TestMockRuntime_ContainerState(t *testing.T) {
	m := NewMockRuntime()

	running, err := m.IsContainerRunning("authentik-freeradius")
	if err != nil || running {
		t.Errorf("IsContainerRunning() = %v, %v, want false, nil", running, err)
	}

	if err := m.RestartContainer("authentik-freeradius"); err != nil {
		t.Fatal(err)
	}
	running, _ = m.IsContainerRunning("authentik-freeradius")
	if !running {
		t.Error("container should be running after restart")
	}
}
