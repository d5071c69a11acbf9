package security

import (
	"net"
	"testing"
)

func TestClassifyShellCommand(t *testing.T) {
	tests := []struct {
		command string
		want    RiskLevel
	}{
		{"ls", RiskSafe},
		{"ls -la /tmp", RiskSafe},
		{"cat notes.txt | grep todo", RiskSafe},
		{"rm -rf /", RiskDangerous},
		{"rm file.txt", RiskWarn},
		{"del /s temp", RiskWarn},
		{"mkfs.ext4 /dev/sda", RiskBlocked},
		{"dd if=/dev/zero of=/dev/sda", RiskBlocked},
		{"format c:", RiskBlocked},
		{":(){ :|:& };:", RiskBlocked},
		{"git status", RiskSafe},
		{"git push origin main", RiskWarn},
		{"git push --force origin main", RiskDangerous},
		{"git branch -D topic", RiskDangerous},
		{"curl https://example.com", RiskDangerous},
		{"sudo apt install jq", RiskDangerous},
		{"ls && rm -rf build", RiskDangerous},
		{"echo hi; mkfs /dev/sdb", RiskBlocked},
		{"someunknowncmd --flag", RiskWarn},
		{"echo 'unterminated", RiskDangerous},
		{"", RiskSafe},
	}
	for _, tt := range tests {
		if got := ClassifyShellCommand(tt.command); got != tt.want {
			t.Errorf("ClassifyShellCommand(%q) = %s, want %s", tt.command, got, tt.want)
		}
	}
}

func TestClassifyPythonCode(t *testing.T) {
	tests := []struct {
		code string
		want RiskLevel
	}{
		{"x = 1 + 2", RiskSafe},
		{"import os; os.system('x')", RiskDangerous},
		{"import subprocess", RiskDangerous},
		{"from shutil import rmtree", RiskDangerous},
		{"print(eval('1+1'))", RiskDangerous},
		{"data = open('.env').read()", RiskDangerous},
		{"data = open('notes.txt').read()", RiskSafe},
		{"# import os\nprint('hi')", RiskSafe},
		{"import json\nprint(json.dumps({}))", RiskSafe},
	}
	for _, tt := range tests {
		if got := ClassifyPythonCode(tt.code); got != tt.want {
			t.Errorf("ClassifyPythonCode(%q) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestURLClassifier(t *testing.T) {
	c := &URLClassifier{
		ServerPort: 8080,
		LookupIP: func(host string) ([]net.IP, error) {
			switch host {
			case "internal.corp":
				return []net.IP{net.ParseIP("10.1.2.3")}, nil
			case "example.com":
				return []net.IP{net.ParseIP("93.184.216.34")}, nil
			case "localhost":
				return []net.IP{net.ParseIP("127.0.0.1")}, nil
			}
			return nil, &net.DNSError{Err: "no such host", Name: host}
		},
	}
	tests := []struct {
		url  string
		want RiskLevel
	}{
		{"https://example.com/page", RiskSafe},
		{"http://10.0.0.1/admin", RiskDangerous},
		{"http://192.168.1.1/", RiskDangerous},
		{"http://internal.corp/api", RiskDangerous},
		{"file:///etc/passwd", RiskBlocked},
		{"ftp://example.com/file", RiskBlocked},
		{"http://localhost:8080/api/chat", RiskBlocked},
		{"http://localhost:9999/other", RiskDangerous},
		{"http://unknown.invalid/", RiskWarn},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.url); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.url, got, tt.want)
		}
	}
}

func TestIsSensitivePath(t *testing.T) {
	sensitive := []string{
		".env", "/app/.env.production", "config/mcp_servers.json",
		"server.key", "cert.pem", "~/.ssh/id_rsa", "aws_credentials.ini",
		"api_token.txt", "client_secret.json",
	}
	for _, p := range sensitive {
		if !IsSensitivePath(p) {
			t.Errorf("IsSensitivePath(%q) = false, want true", p)
		}
	}
	plain := []string{"main.go", "README.md", "environment.md", "notes/tasks.txt"}
	for _, p := range plain {
		if IsSensitivePath(p) {
			t.Errorf("IsSensitivePath(%q) = true, want false", p)
		}
	}
}
