package message

import "testing"

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Identity
		wantErr bool
	}{
		{
			name:    "host identity",
			payload: "host:0123456789ABCDEF:foobarbaz\x00",
			want:    Identity{SystemType: SystemHost, Serial: "0123456789ABCDEF", Banner: "foobarbaz"},
		},
		{
			name:    "device banner with properties and colons",
			payload: "device:emulator-5554:ro.product.name=sdk_gphone;features=shell_v2,cmd\x00",
			want:    Identity{SystemType: SystemDevice, Serial: "emulator-5554", Banner: "ro.product.name=sdk_gphone;features=shell_v2,cmd"},
		},
		{
			name:    "no trailing nul",
			payload: "bootloader:serial:banner",
			want:    Identity{SystemType: SystemBootloader, Serial: "serial", Banner: "banner"},
		},
		{
			name:    "empty serial and banner",
			payload: "device::\x00",
			want:    Identity{SystemType: SystemDevice},
		},
		{
			name:    "missing components",
			payload: "device\x00",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIdentity([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("identity = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatParseInverse(t *testing.T) {
	id := Identity{SystemType: SystemHost, Serial: "serial", Banner: "banner"}
	parsed, err := ParseIdentity([]byte(NullTerminateString(id.String())))
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Fatalf("parse(format(x)) = %+v, want %+v", parsed, id)
	}
}

func TestDestinations(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{TCPDestination("localhost", 8080), "tcp:localhost:8080"},
		{UDPDestination("10.0.0.1", 53), "udp:10.0.0.1:53"},
		{LocalDgramDestination("logd"), "local-dgram:logd"},
		{LocalStreamDestination("socketname"), "local-stream:socketname"},
		{ShellDestination(""), "shell:"},
		{ShellDestination("ls -l /sdcard"), "shell:ls -l /sdcard"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("destination = %q, want %q", tt.got, tt.want)
		}
	}
}
