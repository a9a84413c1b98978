package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peerConfig = `{
  "version": 37,
  "folders": [
    {
      "id": "update",
      "label": "update",
      "path": "/work/update/",
      "type": "sendreceive",
      "devices": [{"deviceID": "SELF", "introducedBy": "", "encryptionPassword": ""}],
      "rescanIntervalS": 3600,
      "fsWatcherEnabled": true
    }
  ],
  "devices": [
    {"deviceID": "SELF", "name": "authority", "addresses": ["dynamic"], "compression": "metadata", "introducer": false}
  ],
  "gui": {"enabled": true, "address": "127.0.0.1:8384"},
  "options": {
    "listenAddresses": ["default"],
    "globalAnnounceEnabled": true,
    "localAnnounceEnabled": true,
    "natEnabled": true,
    "relaysEnabled": true,
    "urAccepted": -1,
    "maxSendKbps": 0
  }
}`

func TestConfigRoundTripKeepsUnknownFields(t *testing.T) {
	config, err := DecodeConfig([]byte(peerConfig))
	require.NoError(t, err)

	require.Len(t, config.Folders, 1)
	require.Len(t, config.Devices, 1)
	assert.Equal(t, "update", config.Folders[0].ID)
	assert.Equal(t, "SELF", config.Devices[0].DeviceID)
	assert.True(t, config.Options.NATEnabled)

	encoded, err := json.Marshal(config)
	require.NoError(t, err)

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(encoded, &generic))
	assert.EqualValues(t, 37, generic["version"])
	assert.Contains(t, generic, "gui")

	folder := generic["folders"].([]interface{})[0].(map[string]interface{})
	assert.EqualValues(t, 3600, folder["rescanIntervalS"])
	assert.Equal(t, true, folder["fsWatcherEnabled"])
	folderDevice := folder["devices"].([]interface{})[0].(map[string]interface{})
	assert.Contains(t, folderDevice, "encryptionPassword")

	device := generic["devices"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "metadata", device["compression"])

	options := generic["options"].(map[string]interface{})
	assert.EqualValues(t, -1, options["urAccepted"])
}

func TestConfigTypedFieldsOverrideStaleCopies(t *testing.T) {
	config, err := DecodeConfig([]byte(peerConfig))
	require.NoError(t, err)

	config.Options.NATEnabled = false
	encoded, err := json.Marshal(config)
	require.NoError(t, err)

	again, err := DecodeConfig(encoded)
	require.NoError(t, err)
	assert.False(t, again.Options.NATEnabled)
}

func TestConfigPresenceChecks(t *testing.T) {
	config, err := DecodeConfig([]byte(peerConfig))
	require.NoError(t, err)

	assert.False(t, config.AddDevice(DeviceConfiguration{DeviceID: "SELF"}))
	assert.True(t, config.AddDevice(DeviceConfiguration{DeviceID: "NEW", Name: "NewDevice-NNEW"}))
	assert.Len(t, config.Devices, 2)

	assert.False(t, config.AddFolder(FolderConfiguration{ID: "update"}))
	assert.NotNil(t, config.FolderByPath("/work/update"))
	assert.Nil(t, config.FolderByPath("/work/other"))

	folder := config.Folder("update")
	require.NotNil(t, folder)
	assert.False(t, folder.AddDevice("SELF"))
	assert.True(t, folder.AddDevice("NEW"))
	assert.True(t, folder.HasDevice("NEW"))
}

func TestConfigRemoveDeviceUnsharesFolders(t *testing.T) {
	config, err := DecodeConfig([]byte(peerConfig))
	require.NoError(t, err)
	config.AddDevice(DeviceConfiguration{DeviceID: "NEW"})
	config.Folder("update").AddDevice("NEW")

	assert.True(t, config.RemoveDevice("NEW"))
	assert.Nil(t, config.Device("NEW"))
	assert.False(t, config.Folder("update").HasDevice("NEW"))
	assert.False(t, config.RemoveDevice("NEW"))
}

func TestNewEntriesEncodeEmptyLists(t *testing.T) {
	encoded, err := json.Marshal([]FolderConfiguration{{ID: "x", Type: FolderTypeSendReceive}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"x","label":"","path":"","type":"sendreceive","devices":[]}]`, string(encoded))

	encoded, err = json.Marshal(DeviceConfiguration{DeviceID: "A"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"deviceID":"A","name":"","addresses":[]}`, string(encoded))
}

func TestRestrictToLocalNetwork(t *testing.T) {
	config, err := DecodeConfig([]byte(peerConfig))
	require.NoError(t, err)

	assert.True(t, config.Options.RestrictToLocalNetwork("", "Wrapper"))
	assert.False(t, config.Options.GlobalAnnounceEnabled)
	assert.False(t, config.Options.NATEnabled)
	assert.False(t, config.Options.RelaysEnabled)
	assert.True(t, config.Options.LocalAnnounceEnabled)
	assert.Equal(t, []string{DefaultListenAddress}, config.Options.ListenAddresses)
	assert.Equal(t, "Wrapper", config.Options.DeviceName)

	assert.False(t, config.Options.RestrictToLocalNetwork("", "Wrapper"))
	assert.True(t, config.Options.RestrictToLocalNetwork("tcp://192.168.1.5:22000", "Wrapper"))
}

func TestDecodeConfigRejectsWrongShape(t *testing.T) {
	_, err := DecodeConfig([]byte(`{"devices": {"not": "a list"}}`))
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = DecodeConfig([]byte(`[1, 2]`))
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	_, err = DecodeConfig([]byte(`{broken`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnexpectedShape)
}
