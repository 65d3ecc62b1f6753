package techdetect

// builtinSignatures is used when no signature file is configured or the
// configured file cannot be read. Every pattern is lower-case.
var builtinSignatures = map[string][]string{
	// Frameworks
	"React":         {"data-reactroot", "react-dom", "__react", "_reactlistening"},
	"Next.js":       {"__next_data__", "/_next/static", "x-powered-by: next.js"},
	"Vue.js":        {"data-v-", "vue.runtime", "vue.global", "__vue__"},
	"Nuxt.js":       {"__nuxt", "/_nuxt/"},
	"Angular":       {"ng-version", "ng-app", "angular.min.js", "zone.js"},
	"Svelte":        {"svelte-", "__svelte"},
	"Gatsby":        {"___gatsby", "gatsby-chunk-mapping"},
	"jQuery":        {"jquery.min.js", "jquery-", "/jquery.js"},
	"Bootstrap":     {"bootstrap.min.css", "bootstrap.min.js", "bootstrap.bundle"},
	"Tailwind CSS":  {"tailwindcss", "tailwind.min.css"},
	"Laravel":       {"laravel_session", "x-powered-by: laravel"},
	"Django":        {"csrfmiddlewaretoken", "django"},
	"Ruby on Rails": {"csrf-param", "rails-ujs", "x-runtime"},
	"ASP.NET":       {"__viewstate", "x-aspnet-version", "x-powered-by: asp.net"},
	"PHP":           {"x-powered-by: php", ".php"},
	"Express":       {"x-powered-by: express"},

	// CMS and site builders
	"WordPress":   {"wp-content", "wp-includes", "wp-json"},
	"Drupal":      {"drupal-settings-json", "/sites/default/files", "x-drupal-cache"},
	"Joomla":      {"/media/jui/", "joomla"},
	"Webflow":     {"webflow.js", "data-wf-page", "assets.website-files.com"},
	"Wix":         {"static.wixstatic.com", "wix-code", "x-wix-request-id"},
	"Squarespace": {"static1.squarespace.com", "squarespace-cdn"},
	"Ghost":       {"ghost-", "content=\"ghost"},
	"HubSpot CMS": {"hs-sites.com", "hubspot-cms"},

	// Commerce
	"Shopify":     {"cdn.shopify.com", "shopify.theme", "x-shopid"},
	"WooCommerce": {"woocommerce", "wc-ajax"},
	"Magento":     {"mage/cookies", "magento", "x-magento-cache"},
	"BigCommerce": {"cdn11.bigcommerce.com", "bigcommerce"},
	"Stripe":      {"js.stripe.com"},

	// Analytics and marketing
	"Google Analytics":   {"google-analytics.com", "googletagmanager.com/gtag", "ga('create'"},
	"Google Tag Manager": {"googletagmanager.com/gtm.js", "gtm-"},
	"HubSpot":            {"js.hs-scripts.com", "js.hsforms.net", "hs-analytics"},
	"Segment":            {"cdn.segment.com", "analytics.load("},
	"Hotjar":             {"static.hotjar.com", "hotjar"},
	"Mixpanel":           {"cdn.mxpnl.com", "mixpanel"},
	"Intercom":           {"widget.intercom.io", "intercomsettings"},
	"Drift":              {"js.driftt.com"},
	"Marketo":            {"munchkin.marketo.net", "mktoforms"},
	"Salesforce Pardot":  {"pi.pardot.com", "piaid"},
	"Facebook Pixel":     {"connect.facebook.net", "fbq('init'"},
	"LinkedIn Insight":   {"snap.licdn.com"},

	// Infrastructure
	"Cloudflare":        {"cdn-cgi", "cf-ray", "server: cloudflare"},
	"Fastly":            {"x-fastly", "fastly"},
	"Amazon CloudFront": {"cloudfront.net", "x-amz-cf-id"},
	"Vercel":            {"x-vercel-id", "server: vercel"},
	"Netlify":           {"x-nf-request-id", "server: netlify"},
	"Nginx":             {"server: nginx"},
	"Apache":            {"server: apache"},
	"reCAPTCHA":         {"google.com/recaptcha", "g-recaptcha"},
}
