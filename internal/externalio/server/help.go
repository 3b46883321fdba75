package server

const helpPageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>simbridge metrics</title></head>
<body>
<h1>simbridge metric query server</h1>
<p>Listening on http://@@LISTEN_ADDR@@:@@LISTEN_PORT@@/</p>
<h2>Discovery</h2>
<p><code>GET @@DISCOVER_PATH@@{namespace}?name=&amp;description=&amp;unit=&amp;type=counter|gauge|summary</code></p>
<p>Returns one sample per known metric, no data.</p>
<h2>Data</h2>
<p><code>GET @@DATA_PATH@@{namespace}?name=&amp;starttime=&amp;endtime=</code></p>
<p>starttime is RFC3339 or relative (-5m), default the last minute. endtime is RFC3339 or "now".</p>
<h2>Aggregation</h2>
<p><code>GET @@AGGREGATION_PATH@@{namespace}?name=&amp;aggregation=sum|avg|tavg|min|max&amp;starttime=&amp;endtime=</code></p>
<h2>Prometheus</h2>
<p><code>GET @@PROMETHEUS_PATH@@</code> exposes the latest interval of every metric.</p>
<p>Namespaces look like Bridge/Broker/WriteRequests/Queue or Bridge/Controller/plc1.</p>
</body>
</html>
`
