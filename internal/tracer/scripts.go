package tracer

import (
	"encoding/json"
	"fmt"

	"domtrace/internal/config"
)

// hrefExpression identifies the document an execution context belongs to.
const hrefExpression = "window.location.href"

const scanTemplate = `(() => {
	const markers = %s;
	const maxDepth = %d;
	const textLimit = %d;
	const targets = Array.from(document.querySelectorAll('*')).filter(el => {
		const t = el.innerText || '';
		return markers.some(m => t.includes(m));
	});
	return targets.map(el => {
		const path = [];
		let curr = el;
		for (let i = 0; i < maxDepth && curr; i++) {
			path.push({
				tag: curr.tagName,
				classes: typeof curr.className === 'string' ? curr.className : (curr.getAttribute('class') || ''),
				id: curr.id || ''
			});
			curr = curr.parentElement;
		}
		return { text: (el.innerText || '').substring(0, textLimit), path: path };
	});
})()`

// scanExpression builds the DOM scan for the configured markers and limits.
func scanExpression(cfg config.TraceConfig) (string, error) {
	markers, err := json.Marshal(cfg.TextMarkers)
	if err != nil {
		return "", fmt.Errorf("encoding text markers: %w", err)
	}
	return fmt.Sprintf(scanTemplate, markers, cfg.MaxDepth, cfg.TextLimit), nil
}
