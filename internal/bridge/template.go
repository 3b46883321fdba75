package bridge

// Starting config written by `simbridge configure`
const ConfigTemplate = `{
  "transport": {
    "latency": "0s"
  },
  "broker": {
    "dispatchInterval": "10ms",
    "drainTimeout": "2s"
  },
  "instances": [
    {
      "name": "plc1",
      "id": 1,
      "cycleTime": "10ms",
      "connectTimeout": "5s",
      "bootDelay": "100ms",
      "inputSize": 16,
      "outputSize": 16,
      "records": [
        {"firstHardwareId": 16, "count": 4}
      ],
      "seed": [
        {"recordIndex": 7, "hardwareId": 16, "data": "AABBCCDD"}
      ],
      "script": [
        {"delay": "1s", "recordIndex": 7, "hardwareId": 16, "length": 4},
        {"delay": "1s", "write": true, "recordIndex": 8, "hardwareId": 17, "data": "01020304"}
      ],
      "loopScript": true
    }
  ],
  "trace": {
    "filePath": "",
    "beatsAddress": ""
  },
  "metrics": {
    "collectionInterval": "15s",
    "maximumRetention": "1h",
    "enableHTTPQueryServer": false,
    "HTTPQueryServerPort": 18851
  },
  "autoscaling": {
    "enabled": false,
    "pollInterval": "5s"
  }
}
`
